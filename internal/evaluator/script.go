package evaluator

import "github.com/MrWong99/realtalk/pkg/types"

// Line is one tutor utterance with its Korean translation.
type Line struct {
	En string `json:"en" yaml:"en"`
	Ko string `json:"ko,omitempty" yaml:"ko,omitempty"`
}

// LastTurn is the index of the final learner turn. A turn accepted here
// completes the conversation.
const LastTurn = 4

// Greeting is the tutor's opening line. It carries no question; the name
// question follows the learner's first reply.
var Greeting = Line{En: "Hi! I'm Cathy. Nice to meet you!", Ko: "안녕! 나는 캐시야. 만나서 반가워!"}

// tutorLines is the scripted dialogue. Index i is what the tutor says before
// learner turn i; index 5 is the default closing.
var tutorLines = [...]Line{
	Greeting,
	{En: "Nice to meet you too! What's your name?", Ko: "나도 만나서 반가워! 네 이름은 뭐야?"},
	{En: "Oh, nice to meet you! How old are you?", Ko: "만나서 반가워! 몇 살이야?"},
	{En: "Cool! How are you feeling today?", Ko: "멋져! 오늘 기분은 어때?"},
	{En: "Good! What do you do after school?", Ko: "좋아! 학교 끝나고 뭘 해?"},
	{En: "Nice! Let's play together next time!", Ko: "좋아! 다음에 같이 하자!"},
}

// ScriptLine returns the scripted tutor line for index i, clamped to the
// script bounds.
func ScriptLine(i int) Line {
	return tutorLines[max(0, min(i, len(tutorLines)-1))]
}

// DefaultClosing is the closing line used when no activity matches.
func DefaultClosing() Line { return tutorLines[len(tutorLines)-1] }

// Acknowledgement phrases spoken before a corrected sentence.
var (
	grammarAck     = Line{En: "Nice try! Say it like this.", Ko: "좋은 시도야! 이렇게 말해볼까?"}
	naturalnessAck = Line{En: "So close! You can also say!", Ko: "거의 다 왔어! 이렇게도 말해볼 수 있어!"}
)

// Acknowledgement returns the phrase spoken before a corrected sentence of
// type t.
func Acknowledgement(t types.ErrorType) Line {
	if t == types.ErrorNaturalness {
		return naturalnessAck
	}
	return grammarAck
}

// Learner-facing explanations attached to local corrections.
const (
	nameExplanation = `이름을 말할 때 "My name is"를 사용해요.`
	ageExplanation  = `나이를 말할 때 "I'm ~ years old"를 사용해요.`
)

type activityClosing struct {
	word string
	line Line
}

// activityClosings maps an after-school activity to its closing line. Order
// matters: the first keyword found wins.
var activityClosings = []activityClosing{
	{"soccer", Line{En: "Nice! Let's play soccer together next time!", Ko: "좋아! 다음에 같이 축구하자!"}},
	{"football", Line{En: "Nice! Let's play football together next time!", Ko: "좋아! 다음에 같이 축구하자!"}},
	{"draw", Line{En: "Nice! Let's draw together next time!", Ko: "좋아! 다음에 같이 그리자!"}},
	{"paint", Line{En: "Nice! Let's draw together next time!", Ko: "좋아! 다음에 같이 그리자!"}},
	{"swim", Line{En: "Nice! Let's swim together next time!", Ko: "좋아! 다음에 같이 수영하자!"}},
	{"read", Line{En: "Nice! Let's read together next time!", Ko: "좋아! 다음에 같이 읽자!"}},
}

// topicWords is the allow-list for off-topic detection. Matching is by
// substring on the lowercased utterance.
var topicWords = []string{
	"name", "age", "old", "student", "nice", "meet", "hello", "hi", "i am", "i'm",
	"feel", "good", "happy", "hungry", "play", "school", "bye",
}

// nameStopWords are skipped when extracting a name from a reply.
var nameStopWords = map[string]bool{
	"name": true, "i": true, "my": true, "the": true, "a": true,
	"is": true, "am": true, "me": true, "call": true,
}

// spelledAges are the number words recognised by the age extractor.
var spelledAges = []string{"eight", "seven", "nine", "ten", "eleven", "six"}

const (
	defaultName = "Friend"
	defaultAge  = "eight"
)

// closingMarkers are the phrases a valid closing line must contain.
var closingMarkers = []string{"let's", "together", "bye", "see you", "sometime", "next time"}

// closingPool holds generic closings substituted for invalid ones.
var closingPool = []Line{
	{En: "Nice! Let's play together next time!", Ko: "좋아! 다음에 같이 하자!"},
	{En: "It was fun talking with you! See you next time!", Ko: "너랑 얘기해서 즐거웠어! 다음에 또 보자!"},
	{En: "Great job today! Let's talk again sometime. Bye!", Ko: "오늘 정말 잘했어! 언젠가 또 얘기하자. 안녕!"},
}
