package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinPrompts(t *testing.T) {
	l := NewLoader()

	system, user, err := l.Render(Planner, PlannerData{
		QuizText:  "Sum the value column of data.csv",
		MediaRefs: []string{"https://x/data.csv"},
		StepKinds: []string{"download", "process_data"},
	})
	require.NoError(t, err)
	assert.Equal(t, defaultSystem, system)
	assert.Contains(t, user, "Sum the value column")
	assert.Contains(t, user, "- https://x/data.csv")
	assert.Contains(t, user, `"kind": "download|process_data"`)

	_, user, err = l.Render(Synthesizer, SynthesizerData{
		QuizText:   "q",
		Results:    map[string]string{"b": "2", "a": "ERROR: boom"},
		AnswerKind: "number",
	})
	require.NoError(t, err)
	assert.Contains(t, user, "- a: ERROR: boom\n- b: 2")
	assert.Contains(t, user, "expected answer type is number")

	_, user, err = l.Render(Improver, ImproverData{PriorAnswer: "41", AnswerKind: "number", Reason: "off by one"})
	require.NoError(t, err)
	assert.Contains(t, user, "Grader feedback: off by one")

	_, _, err = l.Render("missing", nil)
	assert.Error(t, err)
}

func TestLoadFromDirOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "improver.yaml"), []byte(`
template: "Try again: {{.Reason}}"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yml"), []byte(`
name: custom
system: be brief
template: "hi {{.}}"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(`template: "{{.Unclosed"`), 0o644))

	l := NewLoader()
	require.NoError(t, l.LoadFromDir(dir))

	system, user, err := l.Render(Improver, ImproverData{Reason: "wrong unit"})
	require.NoError(t, err)
	assert.Equal(t, defaultSystem, system, "system message kept when override omits it")
	assert.Equal(t, "Try again: wrong unit", user)

	system, user, err = l.Render("custom", "there")
	require.NoError(t, err)
	assert.Equal(t, "be brief", system)
	assert.Equal(t, "hi there", user)

	assert.NotNil(t, l.Get(Planner))
}

func TestLoadFromMissingDir(t *testing.T) {
	l := NewLoader()
	assert.NoError(t, l.LoadFromDir(filepath.Join(t.TempDir(), "nope")))
}
