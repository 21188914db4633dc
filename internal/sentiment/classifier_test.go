package sentiment

import (
	"context"
	"testing"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"frustration keywords", "I'm stuck and my code is broken, this is so frustrating", "frustrated"},
		{"confusion keywords", "I'm confused, can you explain why this happens?", "confused"},
		{"excitement keywords", "Awesome, I solved it and everything is working!", "excited"},
		{"no keywords", "the quick brown fox", "neutral"},
		{"empty text", "", "neutral"},
		{"chinese frustration", "我卡住了，一直失败", "frustrated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, confidence, err := c.Classify(ctx, tt.text)
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if label != tt.want {
				t.Fatalf("label = %q, want %q", label, tt.want)
			}
			if confidence < 0 || confidence > 1 {
				t.Fatalf("confidence out of range: %v", confidence)
			}
		})
	}
}

func TestClassifyNoHitsIsFullyConfidentNeutral(t *testing.T) {
	c := NewClassifier()
	label, confidence, err := c.Classify(context.Background(), "lorem ipsum dolor")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if label != "neutral" || confidence != 1.0 {
		t.Fatalf("got (%q, %v), want (neutral, 1.0)", label, confidence)
	}
}

func TestClassifyWordBoundaries(t *testing.T) {
	c := NewClassifier()
	// "hardware" must not match the keyword "hard".
	label, _, err := c.Classify(context.Background(), "the hardware arrived yesterday")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if label != "neutral" {
		t.Fatalf("label = %q, want neutral", label)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewClassifier()
	first, conf, err := c.Classify(context.Background(), "why does this error happen, I don't understand")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	for i := 0; i < 10; i++ {
		label, c2, err := c.Classify(context.Background(), "why does this error happen, I don't understand")
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if label != first || c2 != conf {
			t.Fatalf("run %d: (%q, %v) != (%q, %v)", i, label, c2, first, conf)
		}
	}
}
