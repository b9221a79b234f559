package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rollouts/internal/domain"
)

func callTool(t *testing.T, handler http.Handler, name, args string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/tools/"+name, strings.NewReader(args))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCalculatorTools(t *testing.T) {
	srv := NewCalculatorServer("calc", nil)

	tests := []struct {
		tool string
		args string
		want float64
	}{
		{"add", `{"a":2,"b":3}`, 5},
		{"subtract", `{"a":10,"b":4}`, 6},
		{"multiply", `{"a":6,"b":7}`, 42},
		{"divide", `{"a":9,"b":3}`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			rec := callTool(t, srv.Handler(), tt.tool, tt.args)
			require.Equal(t, http.StatusOK, rec.Code)

			var result binaryResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
			assert.Equal(t, tt.want, result.Result)
		})
	}
}

func TestCalculatorDivideByZero(t *testing.T) {
	srv := NewCalculatorServer("calc", nil)

	rec := callTool(t, srv.Handler(), "divide", `{"a":1,"b":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "division by zero")
}

func TestCalculatorUnknownTool(t *testing.T) {
	srv := NewCalculatorServer("calc", nil)

	rec := callTool(t, srv.Handler(), "modulo", `{"a":1,"b":2}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalculatorMalformedArguments(t *testing.T) {
	srv := NewCalculatorServer("calc", nil)

	rec := callTool(t, srv.Handler(), "add", `{broken`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCalculatorListTools(t *testing.T) {
	srv := NewCalculatorServer("calc", nil)

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var specs []domain.ToolSpec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &specs))
	require.Len(t, specs, 4)

	// Sorted by name.
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	assert.Equal(t, []string{"add", "divide", "multiply", "subtract"}, names)
	assert.Equal(t, "function", specs[0].Type)
	assert.NotEmpty(t, specs[0].Parameters)
}

func calcRequest(expected any, answer string) domain.VerifyRequest {
	return domain.VerifyRequest{
		RequestParameters: domain.Task{
			Metadata: map[string]any{DefaultResultKey: expected},
		},
		CompletedInteraction: []domain.Item{
			domain.NewUserMessage("compute"),
			domain.NewAssistantMessage(answer),
		},
	}
}

func TestCalculatorVerify(t *testing.T) {
	verifier := &calculatorVerifier{resultKey: DefaultResultKey}

	tests := []struct {
		name     string
		expected any
		answer   string
		want     float64
	}{
		{name: "exact match", expected: 42.0, answer: "The result is 42.", want: 1.0},
		{name: "number with punctuation", expected: 12.5, answer: "It comes to 12.5!", want: 1.0},
		{name: "thousands separator", expected: 1234.0, answer: "That makes 1,234 total.", want: 1.0},
		{name: "wrong answer", expected: 42.0, answer: "The result is 41.", want: 0.0},
		{name: "no number stated", expected: 42.0, answer: "I could not work it out.", want: 0.0},
		{name: "expected as string", expected: "7", answer: "7", want: 1.0},
		{name: "expected as int", expected: 7, answer: "7", want: 1.0},
		{name: "last number wins", expected: 9.0, answer: "3 times 3 is 9", want: 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := verifier.Verify(context.Background(), calcRequest(tt.expected, tt.answer))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Reward)
		})
	}
}

func TestCalculatorVerifyMissingExpected(t *testing.T) {
	verifier := &calculatorVerifier{resultKey: DefaultResultKey}

	req := calcRequest(42.0, "42")
	req.RequestParameters.Metadata = map[string]any{}

	_, err := verifier.Verify(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultResultKey)
}

func TestCalculatorVerifyExtra(t *testing.T) {
	verifier := &calculatorVerifier{resultKey: DefaultResultKey}

	resp, err := verifier.Verify(context.Background(), calcRequest(8.0, "The answer is 8."))
	require.NoError(t, err)
	assert.Equal(t, true, resp.Extra["answer_found"])
	assert.Equal(t, 8.0, resp.Extra["stated_result"])

	resp, err = verifier.Verify(context.Background(), calcRequest(8.0, "no idea"))
	require.NoError(t, err)
	assert.Equal(t, false, resp.Extra["answer_found"])
	assert.NotContains(t, resp.Extra, "stated_result")
}

func TestLastNumber(t *testing.T) {
	tests := []struct {
		text  string
		want  float64
		found bool
	}{
		{"the answer is 42", 42, true},
		{"42.", 42, true},
		{"(3.14)", 3.14, true},
		{"$1,000", 1000, true},
		{"-7 degrees", -7, true},
		{"no numbers here", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, found := lastNumber(tt.text)
		assert.Equal(t, tt.found, found, tt.text)
		if found {
			assert.Equal(t, tt.want, got, tt.text)
		}
	}
}

func TestVerifyEndpoint(t *testing.T) {
	srv := NewCalculatorServer("calc", nil)

	body, err := json.Marshal(calcRequest(5.0, "2 plus 3 makes 5"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1.0, resp["reward"])
}

func TestVerifyEndpointBadBody(t *testing.T) {
	srv := NewCalculatorServer("calc", nil)

	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader("{bad"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpointVerifierError(t *testing.T) {
	srv := NewCalculatorServer("calc", nil)

	// Missing expected_result metadata makes verification fail.
	body, err := json.Marshal(domain.VerifyRequest{
		CompletedInteraction: []domain.Item{domain.NewAssistantMessage("5")},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
