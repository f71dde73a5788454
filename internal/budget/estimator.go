package budget

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// baseTokensPerCall covers the fixed prompt overhead of a tool invocation
// beyond its serialized params.
const baseTokensPerCall = 16

// defaultCostPerTokenMicros prices a token in micro-USD for pre-execution
// cost estimates when the tool reports no cost of its own.
const defaultCostPerTokenMicros = 2

// Estimator counts tokens for pre-execution budget checks. It uses tiktoken
// when the encoding loads and falls back to a bytes/4 heuristic otherwise,
// so estimation keeps working offline.
type Estimator struct {
	encoding           string
	costPerTokenMicros int64
	once               sync.Once
	enc                *tiktoken.Tiktoken
	initErr            error
}

// NewEstimator creates an estimator for the given encoding name. Empty means
// cl100k_base; a non-positive cost rate means the default.
func NewEstimator(encoding string, costPerTokenMicros int64) *Estimator {
	if encoding == "" {
		encoding = defaultEncoding
	}
	if costPerTokenMicros <= 0 {
		costPerTokenMicros = defaultCostPerTokenMicros
	}
	return &Estimator{encoding: encoding, costPerTokenMicros: costPerTokenMicros}
}

func (e *Estimator) init() error {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			e.initErr = err
			return
		}
		e.enc = enc
	})
	return e.initErr
}

// Estimate returns the token count for text. Never fails; the heuristic
// answer is used when the tokenizer is unavailable.
func (e *Estimator) Estimate(text string) int64 {
	if text == "" {
		return 0
	}
	if err := e.init(); err != nil {
		return heuristicTokens(text)
	}
	return int64(len(e.enc.Encode(text, nil, nil)))
}

// EstimateTokens estimates the token footprint of one tool invocation: the
// serialized params plus a fixed per-call base.
func (e *Estimator) EstimateTokens(toolName string, params map[string]any) int64 {
	serialized, err := json.Marshal(params)
	if err != nil {
		serialized = nil
	}
	return baseTokensPerCall + e.Estimate(toolName) + e.Estimate(string(serialized))
}

// EstimateCostMicros converts a token estimate into micro-USD at the
// configured rate.
func (e *Estimator) EstimateCostMicros(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	return tokens * e.costPerTokenMicros
}

// heuristicTokens approximates GPT-family tokenization at four bytes per
// token, rounded up.
func heuristicTokens(text string) int64 {
	return int64((len(text) + 3) / 4)
}
