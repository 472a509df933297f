package pipeline

import "testing"

func TestExtractJSONObject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"whitespace", "  {\"a\":1}\n", `{"a":1}`, true},
		{"fenced json", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"fenced no info", "```\n{\"a\":1}\n```", `{"a":1}`, true},
		{"embedded", `prose before {"a":1} prose after`, `{"a":1}`, true},
		{"no object", "just text", "", false},
		{"broken json", `{"a":`, "", false},
		{"array not object", `[1,2]`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			raw, ok := ExtractJSONObject(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && string(raw) != tc.want {
				t.Errorf("raw = %s, want %s", raw, tc.want)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	v, ok := ParseVerdict(`The draft has issues. {"approved": false, "reasons": ["missing section"], "required_changes": ["add summary"]}`)
	if !ok {
		t.Fatal("verdict not recognized")
	}
	if *v.Approved {
		t.Error("approved = true, want false")
	}
	if len(v.Reasons) != 1 || v.Reasons[0] != "missing section" {
		t.Errorf("reasons = %v", v.Reasons)
	}

	if _, ok := ParseVerdict(`{"reasons": ["no approved field"]}`); ok {
		t.Error("object without boolean approved accepted as verdict")
	}
	if _, ok := ParseVerdict(`{"approved": "yes"}`); ok {
		t.Error("non-boolean approved accepted as verdict")
	}
}

func TestParseFinalResult(t *testing.T) {
	t.Parallel()

	r, ok := ParseFinalResult("```json\n{\"status\":\"ok\",\"draft\":\"d\",\"docx\":\"/out/report.docx\"}\n```")
	if !ok {
		t.Fatal("final result not parsed")
	}
	if r.Status != "ok" || r.Docx != "/out/report.docx" {
		t.Errorf("result = %+v", r)
	}

	if _, ok := ParseFinalResult("the run failed, sorry"); ok {
		t.Error("prose accepted as final result")
	}
}
