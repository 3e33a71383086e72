package nlp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range []string{"classification", "entity_extraction", "summarization", "sentiment_analysis"} {
		kind, err := ParseKind(k)
		require.NoError(t, err)
		assert.Equal(t, Kind(k), kind)
	}

	_, err := ParseKind("translation")
	require.Error(t, err)
	var invalidKind *ErrInvalidTaskKind
	assert.ErrorAs(t, err, &invalidKind)
}

func TestDecodeParamsClassification(t *testing.T) {
	raw := json.RawMessage(`{"categories":["positive","negative"],"use_rag":true,"context_length":500}`)
	p, err := DecodeParams(KindClassification, raw)
	require.NoError(t, err)

	cp, ok := p.(ClassificationParams)
	require.True(t, ok)
	assert.Equal(t, []string{"positive", "negative"}, cp.Categories)

	useRAG, maxLen := p.Context()
	assert.True(t, useRAG)
	assert.Equal(t, 500, maxLen)
}

func TestDecodeParamsMissingRequired(t *testing.T) {
	var invalidParams *ErrInvalidParameters

	_, err := DecodeParams(KindClassification, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.ErrorAs(t, err, &invalidParams)

	_, err = DecodeParams(KindEntityExtraction, json.RawMessage(`{"entity_types":[]}`))
	require.Error(t, err)
	assert.ErrorAs(t, err, &invalidParams)
}

func TestDecodeParamsDefaults(t *testing.T) {
	p, err := DecodeParams(KindSummarization, json.RawMessage(`{}`))
	require.NoError(t, err)

	sp := p.(SummarizationParams)
	assert.Equal(t, DefaultSummaryLength, sp.EffectiveMaxLength())

	useRAG, maxLen := p.Context()
	assert.False(t, useRAG)
	assert.Equal(t, DefaultContextLength, maxLen)
}

func TestDecodeParamsSentimentAcceptsEmpty(t *testing.T) {
	p, err := DecodeParams(KindSentimentAnalysis, nil)
	require.NoError(t, err)
	assert.Equal(t, KindSentimentAnalysis, p.Kind())
}

func TestFingerprintDeterministic(t *testing.T) {
	p, err := DecodeParams(KindClassification, json.RawMessage(`{"categories":["a","b"]}`))
	require.NoError(t, err)

	fp1 := Fingerprint(KindClassification, "I love this product", p)
	fp2 := Fingerprint(KindClassification, "I love this product", p)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func TestFingerprintVariesByKindTextAndParams(t *testing.T) {
	cls, _ := DecodeParams(KindClassification, json.RawMessage(`{"categories":["a"]}`))
	cls2, _ := DecodeParams(KindClassification, json.RawMessage(`{"categories":["b"]}`))
	sent, _ := DecodeParams(KindSentimentAnalysis, nil)

	base := Fingerprint(KindClassification, "some text", cls)
	assert.NotEqual(t, base, Fingerprint(KindClassification, "other text", cls))
	assert.NotEqual(t, base, Fingerprint(KindClassification, "some text", cls2))
	assert.NotEqual(t, base, Fingerprint(KindSentimentAnalysis, "some text", sent))
}

func TestFingerprintIgnoresRetrievalOptions(t *testing.T) {
	plain, _ := DecodeParams(KindClassification, json.RawMessage(`{"categories":["a"]}`))
	withRAG, _ := DecodeParams(KindClassification, json.RawMessage(`{"categories":["a"],"use_rag":true}`))

	assert.Equal(t,
		Fingerprint(KindClassification, "text", plain),
		Fingerprint(KindClassification, "text", withRAG))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}
