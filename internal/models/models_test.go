package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerMarshalByTag(t *testing.T) {
	tests := []struct {
		name   string
		answer Answer
		want   string
	}{
		{"integer number", NumberAnswer(4), `4`},
		{"float number", NumberAnswer(2.5), `2.5`},
		{"boolean", BoolAnswer(true), `true`},
		{"string", StringAnswer("hello"), `"hello"`},
		{"object", ObjectAnswer(map[string]any{"a": 1.0}), `{"a":1}`},
		{"media", MediaAnswer("iVBORw0KGgo="), `"iVBORw0KGgo="`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.answer)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestAnswerMarshalInsideBody(t *testing.T) {
	body := struct {
		Email  string `json:"email"`
		Answer Answer `json:"answer"`
	}{Email: "a@b.c", Answer: ObjectAnswer([]any{1.0, 2.0})}

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"a@b.c","answer":[1,2]}`, string(raw))
}

func TestAnswerValidateRejectsEmpty(t *testing.T) {
	assert.ErrorIs(t, StringAnswer("   ").Validate(), ErrEmptyAnswer)
	assert.ErrorIs(t, MediaAnswer("").Validate(), ErrEmptyAnswer)
	assert.ErrorIs(t, ObjectAnswer(nil).Validate(), ErrEmptyAnswer)
	assert.ErrorIs(t, Answer{}.Validate(), ErrEmptyAnswer)
	assert.NoError(t, BoolAnswer(false).Validate())
	assert.NoError(t, NumberAnswer(0).Validate())

	_, err := json.Marshal(StringAnswer(""))
	assert.Error(t, err)
}

func TestParseAnswer(t *testing.T) {
	assert.Equal(t, NumberAnswer(42), ParseAnswer("42"))
	assert.Equal(t, NumberAnswer(3.14), ParseAnswer(" 3.14 \n"))
	assert.Equal(t, BoolAnswer(true), ParseAnswer("yes"))
	assert.Equal(t, BoolAnswer(false), ParseAnswer("False"))
	assert.Equal(t, StringAnswer("Paris"), ParseAnswer("Paris"))
	assert.Equal(t, StringAnswer("quoted"), ParseAnswer(`"quoted"`))

	obj := ParseAnswer("```json\n{\"total\": 10}\n```")
	assert.Equal(t, AnswerObject, obj.Kind)
	assert.Equal(t, map[string]any{"total": 10.0}, obj.Object)

	media := ParseAnswer("data:image/png;base64,AAAA")
	assert.Equal(t, AnswerMedia, media.Kind)
}

func TestAnswerCoerce(t *testing.T) {
	n, err := StringAnswer("1,234").Coerce(AnswerNumber)
	require.NoError(t, err)
	assert.Equal(t, NumberAnswer(1234), n)

	b, err := StringAnswer("Yes").Coerce(AnswerBoolean)
	require.NoError(t, err)
	assert.Equal(t, BoolAnswer(true), b)

	s, err := NumberAnswer(7).Coerce(AnswerString)
	require.NoError(t, err)
	assert.Equal(t, StringAnswer("7"), s)

	o, err := StringAnswer(`{"x":1}`).Coerce(AnswerObject)
	require.NoError(t, err)
	assert.Equal(t, AnswerObject, o.Kind)

	same, err := BoolAnswer(true).Coerce("")
	require.NoError(t, err)
	assert.Equal(t, BoolAnswer(true), same)

	orig := StringAnswer("not a number")
	got, err := orig.Coerce(AnswerNumber)
	assert.Error(t, err)
	assert.Equal(t, orig, got)
}

func TestParseStepKind(t *testing.T) {
	k, err := ParseStepKind("download_file")
	require.NoError(t, err)
	assert.Equal(t, StepDownload, k)

	k, err = ParseStepKind("ANALYZE_DATA")
	require.NoError(t, err)
	assert.Equal(t, StepAnalyzeData, k)

	_, err = ParseStepKind("llm_reasoning")
	assert.Error(t, err)
}

func TestPlanValidate(t *testing.T) {
	valid := ExecutionPlan{Steps: []Step{
		{Kind: StepDownload, ResultKey: "file", Parameters: map[string]any{"url": "http://x/data.csv"}},
		{Kind: StepProcessData, ResultKey: "table", Parameters: map[string]any{"input": "file"}},
	}}
	require.NoError(t, valid.Validate())

	dup := ExecutionPlan{Steps: []Step{
		{Kind: StepDownload, ResultKey: "file"},
		{Kind: StepScrape, ResultKey: "file"},
	}}
	assert.ErrorContains(t, dup.Validate(), "duplicate result_key")

	forward := ExecutionPlan{Steps: []Step{
		{Kind: StepProcessData, ResultKey: "a", Parameters: map[string]any{"input": "b"}},
		{Kind: StepDownload, ResultKey: "b"},
	}}
	assert.ErrorContains(t, forward.Validate(), "earlier step")

	skipped := ExecutionPlan{
		Steps:   []Step{{Kind: StepAnalyzeData, ResultKey: "sum", Parameters: map[string]any{"input": "think"}}},
		Skipped: []string{"think"},
	}
	require.NoError(t, skipped.Validate())

	shadow := ExecutionPlan{
		Steps:   []Step{{Kind: StepDownload, ResultKey: "think"}},
		Skipped: []string{"think"},
	}
	assert.ErrorContains(t, shadow.Validate(), "duplicate result_key")

	unknown := ExecutionPlan{Steps: []Step{{Kind: "teleport", ResultKey: "x"}}}
	assert.Error(t, unknown.Validate())

	assert.True(t, (&ExecutionPlan{}).IsDirect())
}

func TestTruncateKeepsRunes(t *testing.T) {
	long := "a" + strings.Repeat("é", 150)

	s := StringAnswer(long).String()
	assert.True(t, utf8.ValidString(s))
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Len(t, s, 199+len("..."))

	reg := NewResultsRegistry()
	require.NoError(t, reg.Put(Result{Key: "note", Kind: StepScrape, Value: "日本語のテキスト"}))
	got := reg.Summary(4)["note"]
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日...", got)

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, long, truncate(long, 0))
}

func TestResultsRegistryAppendOnly(t *testing.T) {
	reg := NewResultsRegistry()
	require.NoError(t, reg.Put(Result{Key: "a", Kind: StepDownload, Value: "x"}))
	require.NoError(t, reg.Put(Result{Key: "b", Kind: StepScrape, Failed: true, Error: "boom"}))

	err := reg.Put(Result{Key: "a", Value: "y"})
	assert.ErrorIs(t, err, ErrDuplicateResult)

	v, ok := reg.Value("a")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = reg.Value("b")
	assert.False(t, ok, "failed entries carry no value")

	assert.Equal(t, []string{"a", "b"}, reg.Keys())
	assert.Equal(t, "ERROR: boom", reg.Summary(0)["b"])
}

func TestQuizTaskDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	task := NewQuizTask("id", "http://q", "e", "s", now, 3*time.Minute)

	assert.False(t, task.Expired(now.Add(3*time.Minute)))
	assert.True(t, task.Expired(now.Add(3*time.Minute+time.Nanosecond)))
	assert.Equal(t, time.Minute, task.Remaining(now.Add(2*time.Minute)))
	assert.Equal(t, time.Duration(0), task.Remaining(now.Add(time.Hour)))
}

func TestQuizPageText(t *testing.T) {
	p := &QuizPage{RawText: "visible", DecodedSegments: []string{"decoded one", "decoded two"}}
	assert.Equal(t, "decoded one\ndecoded two\nvisible", p.Text())
}

func TestStateStatus(t *testing.T) {
	assert.Equal(t, StatusSucceeded, StateDone.Status())
	assert.Equal(t, StatusTimedOut, StateTimedOut.Status())
	assert.Equal(t, StatusRunning, StateExecuting.Status())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateRetrying.IsTerminal())
}
