package prompts

type definition struct {
	System   string
	Template string
}

// PlannerData is rendered into the planner prompt
type PlannerData struct {
	QuizText  string
	MediaRefs []string
	StepKinds []string
}

// SynthesizerData is rendered into the synthesizer prompt
type SynthesizerData struct {
	QuizText   string
	Results    map[string]string
	AnswerKind string
}

// ImproverData is rendered into the improver prompt
type ImproverData struct {
	QuizText    string
	PriorAnswer string
	AnswerKind  string
	Reason      string
}

const defaultSystem = "You are a helpful assistant that solves data analysis tasks."

var builtin = map[string]definition{
	Planner: {
		System: defaultSystem,
		Template: `Analyze this quiz task and create a step-by-step plan to solve it.

Quiz Task:
{{.QuizText}}
{{if .MediaRefs}}
Referenced resources:
{{range .MediaRefs}}- {{.}}
{{end}}{{end}}
Create a JSON plan with the following structure:
{
  "answer_type": "boolean|number|string|object|media",
  "steps": [
    {
      "kind": "{{join .StepKinds "|"}}",
      "description": "what to do in this step",
      "result_key": "unique_name_for_result",
      "required": false,
      "parameters": {"url": "if applicable", "input": "result_key of an earlier step"}
    }
  ]
}

If the question can be answered from the text alone, return an empty steps list.
Return only valid JSON.`,
	},
	Synthesizer: {
		System: defaultSystem,
		Template: `Based on the quiz task and intermediate results, extract the final answer.

Quiz Task:
{{.QuizText}}

Intermediate Results:
{{range $key, $value := .Results}}- {{$key}}: {{truncate 2000 $value}}
{{else}}(none)
{{end}}
Some results may be marked ERROR; answer from whatever data is available.
{{if .AnswerKind}}The expected answer type is {{.AnswerKind}}.
{{end}}If the answer is a number, return only the number.
If it is a string, return only the string.
If it is a boolean, return true or false.
If it is JSON, return valid JSON only.`,
	},
	Improver: {
		System: defaultSystem,
		Template: `A previous answer to this quiz was graded incorrect.

Quiz Task:
{{.QuizText}}

Previous answer ({{.AnswerKind}}): {{.PriorAnswer}}
Grader feedback: {{.Reason}}

Return a corrected answer of the same type ({{.AnswerKind}}) and nothing else.`,
	},
}
