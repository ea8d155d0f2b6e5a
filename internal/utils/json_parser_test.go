package utils

import (
	"reflect"
	"testing"
)

type verdict struct {
	IsAIGenerated bool     `json:"is_ai_generated"`
	Confidence    int      `json:"confidence"`
	Indicators    []string `json:"indicators"`
}

func TestParseAIJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    verdict
		wantErr bool
	}{
		{
			name:  "Pure JSON",
			input: `{"is_ai_generated": true, "confidence": 80}`,
			want:  verdict{IsAIGenerated: true, Confidence: 80},
		},
		{
			name:  "JSON in markdown code block",
			input: "```json\n" + `{"is_ai_generated": false, "confidence": 12}` + "\n```",
			want:  verdict{Confidence: 12},
		},
		{
			name:  "Untagged code block",
			input: "```\n" + `{"confidence": 40}` + "\n```",
			want:  verdict{Confidence: 40},
		},
		{
			name:  "JSON with surrounding prose",
			input: `Here is my analysis: {"is_ai_generated": true, "confidence": 65, "indicators": ["smooth skin"]} Hope this helps.`,
			want:  verdict{IsAIGenerated: true, Confidence: 65, Indicators: []string{"smooth skin"}},
		},
		{
			name:  "Reasoning block before answer",
			input: `<think>the texture {looks} odd</think>{"is_ai_generated": true, "confidence": 90}`,
			want:  verdict{IsAIGenerated: true, Confidence: 90},
		},
		{
			name:  "Trailing comma",
			input: `{"is_ai_generated": true, "confidence": 70,}`,
			want:  verdict{IsAIGenerated: true, Confidence: 70},
		},
		{
			name:  "Unquoted keys",
			input: `{is_ai_generated: true, confidence: 55}`,
			want:  verdict{IsAIGenerated: true, Confidence: 55},
		},
		{
			name:  "Single quoted strings",
			input: `{'indicators': ['warped text'], 'confidence': 30}`,
			want:  verdict{Confidence: 30, Indicators: []string{"warped text"}},
		},
		{
			name:    "Empty string",
			input:   "   ",
			wantErr: true,
		},
		{
			name:    "No JSON at all",
			input:   "The image looks like an ai render to me",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got verdict
			err := ParseAIJSON(tt.input, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAIJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseAIJSON() got = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseAIJSON_Array(t *testing.T) {
	var scores []float64
	if err := ParseAIJSON("Polarity scores: [0.8, -0.25, 0]", &scores); err != nil {
		t.Fatalf("ParseAIJSON() error = %v", err)
	}
	want := []float64{0.8, -0.25, 0}
	if !reflect.DeepEqual(scores, want) {
		t.Errorf("got %v, want %v", scores, want)
	}
}

func TestFirstBalanced(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		open    byte
		close   byte
		want    string
		wantErr bool
	}{
		{name: "Simple object", input: `{"a": 1}`, open: '{', close: '}', want: `{"a": 1}`},
		{name: "Nested objects", input: `x {"a": {"b": 2}} y`, open: '{', close: '}', want: `{"a": {"b": 2}}`},
		{name: "Braces inside strings", input: `{"text": "Hello {world}"}`, open: '{', close: '}', want: `{"text": "Hello {world}"}`},
		{name: "Escaped quote inside string", input: `{"text": "say \"}\""}`, open: '{', close: '}', want: `{"text": "say \"}\""}`},
		{name: "Array", input: `[1, [2], 3]`, open: '[', close: ']', want: `[1, [2], 3]`},
		{name: "Unbalanced", input: `{"a": 1`, open: '{', close: '}', wantErr: true},
		{name: "Missing", input: `nothing here`, open: '{', close: '}', wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstBalanced(tt.input, tt.open, tt.close)
			if (err != nil) != tt.wantErr {
				t.Fatalf("firstBalanced() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("firstBalanced() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasJSONObject(t *testing.T) {
	if !HasJSONObject(`answer: {"x": 1}`) {
		t.Error("expected object to be detected")
	}
	if HasJSONObject("yes it is ai") {
		t.Error("expected no object")
	}
}
