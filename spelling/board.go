/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spelling

import "math/rand/v2"

// Position is a point on the board in layout units.
type Position struct {
	X float64
	Y float64
}

// Home is where the indicator rests between messages.
var Home = Position{X: 270, Y: 202}

// Board maps characters and words to their place on the board.
type Board map[string]Position

// DefaultBoard returns the standard letter, digit and word layout.
func DefaultBoard() Board {
	b := Board{
		"YES":     {X: 150, Y: 280},
		"NO":      {X: 450, Y: 280},
		"GOODBYE": {X: 300, Y: 320},
		" ":       {X: 300, Y: 250},
	}

	rows := []struct {
		chars  string
		startX float64
		y      float64
	}{
		{"ABCDEFGHIJ", 45, 70},
		{"KLMNOPQRST", 45, 120},
		{"UVWXYZ0123", 70, 170},
		{"456789", 70, 220},
	}

	for _, row := range rows {
		for i, c := range row.chars {
			b[string(c)] = Position{X: row.startX + float64(i)*50, Y: row.y}
		}
	}

	return b
}

// Locate returns the position of key, or a random point on the board if
// the layout does not include it.
func (b Board) Locate(key string) Position {
	if p, ok := b[key]; ok {
		return p
	}

	return Position{
		X: rand.Float64()*500 + 50,
		Y: rand.Float64()*300 + 50,
	}
}
