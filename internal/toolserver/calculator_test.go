package toolserver

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr    string
		want    float64
		wantErr string
	}{
		{expr: "5 + 3 * 2", want: 11},
		{expr: "(10 + 20 + 30) / 3", want: 20},
		{expr: "2^3", want: 8},
		{expr: "2 ** 10", want: 1024},
		{expr: "-4 + 1", want: -3},
		{expr: "17 % 5", want: 2},
		{expr: "sqrt(16) + abs(-2)", want: 6},
		{expr: "max(1, 7, 3)", want: 7},
		{expr: "round(pi * 100) / 100", want: 3.14},
		{expr: "1 / 0", wantErr: "division by zero"},
		{expr: "3 > 2", wantErr: "not a number"},
		{expr: "'abc'", wantErr: "not a number"},
		{expr: "(5 + 3", wantErr: "invalid expression"},
		{expr: "sqrt(1, 2)", wantErr: "one argument"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Evaluate(%q) error = %v, want it to contain %q", tt.expr, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate(%q) error: %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCalculatorInvoke(t *testing.T) {
	out, err := Calculator{}.Invoke(context.Background(), map[string]any{"expression": " 5 + 3 * 2 "})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	calc, ok := out.(Calculation)
	if !ok {
		t.Fatalf("Invoke() returned %T", out)
	}
	if calc.Expression != "5 + 3 * 2" || calc.Value != 11 || calc.Type != "numeric" {
		t.Errorf("Invoke() = %+v", calc)
	}

	// A bare number is a valid expression.
	out, err = Calculator{}.Invoke(context.Background(), map[string]any{"expression": json.Number("42")})
	if err != nil || out.(Calculation).Value != 42 {
		t.Errorf("numeric expression = %+v, %v", out, err)
	}
}

func TestCalculatorInvoke_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"missing", map[string]any{}, "No expression provided"},
		{"blank", map[string]any{"expression": "   "}, "No expression provided"},
		{"wrong type", map[string]any{"expression": true}, "must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calculator{}.Invoke(context.Background(), tt.params)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Invoke() error = %v, want %q", err, tt.want)
			}
		})
	}
}
