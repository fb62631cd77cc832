package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeExchangeError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("context deadline exceeded"), ExchangeErrorTimeout},
		{errors.New("429 too many requests"), ExchangeErrorRateLimit},
		{errors.New("401 unauthorized"), ExchangeErrorAuth},
		{errors.New("connection refused"), ExchangeErrorNetwork},
		{errors.New("invalid symbol"), ExchangeErrorInvalidReq},
		{errors.New("502 bad gateway"), ExchangeErrorServerError},
		{errors.New("something odd"), ExchangeErrorOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeExchangeError(tc.err))
	}
}

func TestRecordScan(t *testing.T) {
	before := testutil.ToFloat64(ScansTotal)
	beforeSymbols := testutil.ToFloat64(SymbolsAnalyzed)

	RecordScan(2*time.Second, 5)

	assert.Equal(t, before+1, testutil.ToFloat64(ScansTotal))
	assert.Equal(t, beforeSymbols+5, testutil.ToFloat64(SymbolsAnalyzed))
}

func TestRecordAdvice(t *testing.T) {
	before := testutil.ToFloat64(AdviceTotal.WithLabelValues("做多"))
	beforeHigh := testutil.ToFloat64(HighConfidenceAdvice)

	RecordAdvice("做多", true)
	RecordAdvice("做多", false)

	assert.Equal(t, before+2, testutil.ToFloat64(AdviceTotal.WithLabelValues("做多")))
	assert.Equal(t, beforeHigh+1, testutil.ToFloat64(HighConfidenceAdvice))
}

func TestRecordTrade(t *testing.T) {
	beforeLong := testutil.ToFloat64(TradesExecuted.WithLabelValues("做多"))
	beforeRejected := testutil.ToFloat64(TradesRejected)

	RecordTrade("做多", true)
	RecordTrade("做空", false)

	assert.Equal(t, beforeLong+1, testutil.ToFloat64(TradesExecuted.WithLabelValues("做多")))
	assert.Equal(t, beforeRejected+1, testutil.ToFloat64(TradesRejected))
}

func TestRecordLLMRequest(t *testing.T) {
	before := testutil.ToFloat64(LLMRequestErrors)

	RecordLLMRequest(time.Second, nil)
	RecordLLMRequest(time.Second, errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(LLMRequestErrors))
}

func TestRecordExchangeError(t *testing.T) {
	before := testutil.ToFloat64(ExchangeErrors.WithLabelValues(ExchangeErrorRateLimit))

	RecordExchangeError(nil)
	RecordExchangeError(errors.New("rate limit hit"))

	assert.Equal(t, before+1, testutil.ToFloat64(ExchangeErrors.WithLabelValues(ExchangeErrorRateLimit)))
}
