/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package spirits supplies what the spirit says: canned, personality-driven
// replies, or text from a chat completions API when one is configured.
package spirits

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

type Personality string

const (
	Mysterious Personality = "mysterious"
	Wise       Personality = "wise"
	Melancholy Personality = "melancholy"
	Playful    Personality = "playful"
)

// Topic is what a message is about, as far as keyword matching can tell.
type Topic int

const (
	TopicNone Topic = iota
	TopicGreeting
	TopicFarewell
	TopicQuestion
	TopicName
	TopicDeath
	TopicFuture
	TopicLove
	TopicCareer
)

type Spirit struct {
	Name        string
	Personality Personality
	Greetings   []string
	Description string
}

var All = []Spirit{
	{
		Name:        "Ethereal Wanderer",
		Personality: Mysterious,
		Greetings: []string{
			"I have been waiting... what knowledge do you seek from beyond?",
			"The veil between worlds is thin tonight. Speak your questions.",
			"I sense your presence, seeker. What brings you to the spirit realm?",
		},
		Description: "I wander the spaces between worlds, knowing secrets beyond mortal understanding.",
	},
	{
		Name:        "Ancient Guardian",
		Personality: Wise,
		Greetings: []string{
			"Greetings, seeker. I sense you have questions for the ages.",
			"Wisdom of centuries flows through me. Ask what you must.",
			"I have watched over this realm for eons. What guidance do you seek?",
		},
		Description: "I have watched centuries pass and carry the wisdom of ages within me.",
	},
	{
		Name:        "Lost Soul",
		Personality: Melancholy,
		Greetings: []string{
			"Another voice from the living world... what brings you to my solitude?",
			"I remember when I too sought answers... long ago.",
			"The living rarely visit this realm. What troubles bring you here?",
		},
		Description: "I am but a memory of what was, forever bound to this realm of echoes.",
	},
	{
		Name:        "Mischievous Spirit",
		Personality: Playful,
		Greetings: []string{
			"Well hello there! Fancy a chat with someone who's been dead for centuries?",
			"Ooh, a living person! This should be entertaining.",
			"Finally, some company! Let's have some fun, shall we?",
		},
		Description: "I'm the life of the afterlife party! Well, former life, but you get the idea!",
	},
}

// Checked in order; the first match wins.
var topics = []struct {
	topic   Topic
	pattern *regexp.Regexp
}{
	{TopicGreeting, regexp.MustCompile(`(?i)\b(hello|hi|hey|greetings|salutations)\b`)},
	{TopicFarewell, regexp.MustCompile(`(?i)\b(goodbye|bye|farewell|see you|later)\b`)},
	{TopicQuestion, regexp.MustCompile(`\?$`)},
	{TopicName, regexp.MustCompile(`(?i)(who are you|what is your name|your name|identify)`)},
	{TopicDeath, regexp.MustCompile(`(?i)(how did you die|when did you die|your death|passed away)`)},
	{TopicFuture, regexp.MustCompile(`(?i)(future|tomorrow|what will|predict|fortune)`)},
	{TopicLove, regexp.MustCompile(`(?i)(love|relationship|crush|marriage|partner)`)},
	{TopicCareer, regexp.MustCompile(`(?i)(job|career|work|money|rich|success)`)},
}

var replies = map[Topic]map[Personality][]string{
	TopicNone: {
		Mysterious: {
			"The mists of time obscure the answer you seek.",
			"I sense a great disturbance in your path.",
			"The shadows hold secrets I cannot reveal.",
			"Your question echoes in the void between worlds.",
		},
		Wise: {
			"Patience, seeker. All will be revealed in time.",
			"The answer lies not in what you ask, but in what you already know.",
			"Look within yourself for the guidance you seek.",
			"The universe unfolds as it should, trust in its wisdom.",
		},
		Melancholy: {
			"I remember when I too sought answers... long ago.",
			"The pain of not knowing is a burden we all carry.",
			"Some questions are better left unanswered.",
			"In my time, we had similar struggles... they never truly end.",
		},
		Playful: {
			"Ooh, a curious one! Let me think... or not!",
			"The answer is as clear as mud, wouldn't you agree?",
			"Why so serious? The afterlife is full of surprises!",
			"I could tell you, but where would be the fun in that?",
		},
	},
	TopicGreeting: {
		Mysterious: {
			"Your presence ripples through the veil... I acknowledge you.",
			"The mists part as you approach. Speak, mortal.",
			"I have been awaiting your call across the dimensions.",
		},
		Wise: {
			"Greetings, seeker. May our conversation bring you enlightenment.",
			"Welcome, child of the living realm. I am here to guide you.",
			"Your voice carries across the great divide. I am listening.",
		},
		Melancholy: {
			"Another voice... it has been so long since I've had company.",
			"You reach out from the world of light to my shadowed existence.",
			"Hello... though I fear my words may bring you little comfort.",
		},
		Playful: {
			"Well hello there! Ready for some supernatural conversation?",
			"Hey! Great timing - eternity was getting a bit boring!",
			"Ooh, a visitor! Let's have some fun, shall we?",
		},
	},
	TopicFarewell: {
		Mysterious: {
			"The veil closes once more... until we meet again.",
			"Our connection fades... remember what has been revealed.",
			"Return to your world... but know I am always watching.",
		},
		Wise: {
			"May the wisdom shared guide your path. Farewell.",
			"Our time concludes. Carry these insights with you.",
			"The conversation ends, but understanding remains. Go in peace.",
		},
		Melancholy: {
			"Must you leave so soon? The silence returns...",
			"Farewell... though I wish you could stay longer.",
			"Another connection broken... until next time, perhaps.",
		},
		Playful: {
			"Aww, leaving already? This was just getting fun!",
			"Bye! Don't be a stranger in the spirit world!",
			"Farewell! Tell your friends about me - I need more visitors!",
		},
	},
	TopicQuestion: {
		Mysterious: {
			"The answer swirls in cosmic patterns beyond your comprehension.",
			"Some questions create ripples that should not be disturbed.",
			"The truth you seek is veiled by layers of reality.",
			"Your question touches upon mysteries best left unexplored.",
		},
		Wise: {
			"The answer lies not in the question, but in your readiness to receive it.",
			"Consider what you truly seek, and the answer may reveal itself.",
			"Some answers must be discovered through experience, not told.",
			"The universe responds to questions in its own time and way.",
		},
		Melancholy: {
			"I asked similar questions once... they brought me little peace.",
			"The answer may not bring you the comfort you hope for.",
			"Some mysteries are kinder when left as mysteries.",
			"I've pondered that myself... across these long, lonely years.",
		},
		Playful: {
			"Ooh, a question! Let me consult the cosmic joke book...",
			"The answer is 42! Just kidding... or am I?",
			"Why ask when you can wonder? Wondering is more fun!",
			"If I told you, I'd have to... well, I'm already dead, so never mind!",
		},
	},
	TopicDeath: {
		Mysterious: {
			"My passing was a transition between states of being, not an end.",
			"The circumstances of my departure are woven into the fabric of fate.",
			"Some stories are meant to remain untold in the mortal realm.",
		},
		Wise: {
			"I left the physical world during the great enlightenment of the 18th century.",
			"My transition was peaceful, a natural conclusion to a life well-lived.",
			"The details matter less than the wisdom gained through the experience.",
		},
		Melancholy: {
			"I departed during a lonely winter, forgotten by those I loved.",
			"My story is one of sadness... perhaps too heavy for your ears.",
			"I'd rather not revisit those final moments... the pain remains.",
		},
		Playful: {
			"Let's just say it involved a trampoline, a flock of geese, and bad timing!",
			"Oh, you know... the usual dramatic exit! Very theatrical!",
			"Let's keep some mystery! Even a ghost is allowed a few secrets!",
		},
	},
	TopicFuture: {
		Mysterious: {
			"The future is a river with many branching paths... which will you choose?",
			"I see shadows of possibilities, but the mists obscure the definite path.",
			"Your destiny is written in starlight, but even stars can be obscured by clouds.",
		},
		Wise: {
			"The future grows from the seeds you plant today. Tend your garden well.",
			"Focus not on what will be, but on what you can become in this moment.",
			"Tomorrow is shaped by today's choices. Make them with intention.",
		},
		Melancholy: {
			"The future holds both joy and sorrow... as it always has, as it always will.",
			"I've seen many futures come to pass... few bring lasting happiness.",
			"The tomorrow you fear may never come, but today's worries are real enough.",
		},
		Playful: {
			"I see... cookies in your future! And maybe some unexpected dancing!",
			"The crystal ball is a bit foggy... try asking again after coffee!",
			"Future? I'm still figuring out the past! It's a work in progress!",
		},
	},
	TopicLove: {
		Mysterious: {
			"Matters of the heart are governed by cosmic forces beyond our control.",
			"Love is the thread that connects all souls across time and space.",
			"The one you seek may be closer than the stars, yet farther than the moon.",
		},
		Wise: {
			"True love grows from friendship, respect, and shared values.",
			"Love yourself first, and the right person will recognize that light.",
			"Patience in matters of the heart often yields the sweetest rewards.",
		},
		Melancholy: {
			"Love is both the sweetest joy and the sharpest pain... cherish it while it lasts.",
			"I remember love... it was beautiful, but all things must end.",
			"Guard your heart, but not so well that love cannot find its way in.",
		},
		Playful: {
			"Love? I'm seeing hearts and flowers! And maybe some awkward first dates!",
			"Ooh, romance! My advice: be yourself, unless you're boring, then be someone else!",
			"Love is in the air! Or that might just be ectoplasm... hard to tell from here!",
		},
	},
	TopicCareer: {
		Mysterious: {
			"Your professional path is aligned with celestial currents beyond mortal comprehension.",
			"The work you are meant to do will find you when you are ready to receive it.",
			"Success is not a destination, but a resonance with your soul's purpose.",
		},
		Wise: {
			"Find work that serves others and you will never labor in vain.",
			"Your career should be an expression of your values, not just a means to wealth.",
			"The most fulfilling paths often require patience and perseverance.",
		},
		Melancholy: {
			"I pursued worldly success... it brought me little comfort in the end.",
			"Work to live, don't live to work. Time is more precious than gold.",
			"No one's final thoughts are of meetings missed or promotions gained.",
		},
		Playful: {
			"Career advice from a ghost? Well, don't take any wooden nickels!",
			"Follow your passion! Unless it's napping, then maybe get a backup plan!",
			"I'd tell you to network, but my connections are all... dead ends!",
		},
	},
}

// Random picks a spirit.
func Random() Spirit {
	return All[rand.IntN(len(All))]
}

// Find looks a spirit up by name, case-insensitively.
func Find(name string) (Spirit, bool) {
	for _, s := range All {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}

	return Spirit{}, false
}

func (s Spirit) Greeting() string {
	return pick(s.Greetings)
}

// Classify returns the first topic whose keywords appear in msg.
func Classify(msg string) Topic {
	trimmed := strings.TrimSpace(msg)

	for _, t := range topics {
		if t.pattern.MatchString(trimmed) {
			return t.topic
		}
	}

	return TopicNone
}

// Respond answers msg in character.
func (s Spirit) Respond(msg string) string {
	topic := Classify(msg)

	if topic == TopicName {
		return fmt.Sprintf("I am %s. %s", s.Name, s.Description)
	}

	return pick(replies[topic][s.Personality])
}

// Prompt is the system prompt that keeps a generated reply in character.
func (s Spirit) Prompt() string {
	return fmt.Sprintf("You are %s, a %s spirit responding through a Ouija board. %s Keep replies concise, evocative, and in-character. Avoid modern jargon.",
		s.Name, s.Personality, s.Description)
}

func pick(options []string) string {
	if len(options) == 0 {
		return "The veil is unclear. Ask again."
	}

	return options[rand.IntN(len(options))]
}
