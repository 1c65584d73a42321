package aggregator

import (
	"math"

	"aegis/internal/types"
)

// Weighting 把同一 symbol 下各来源的有效信号融合为一个评分。
type Weighting interface {
	Name() string
	// Combine 返回融合后的 score/confidence；ok=false 表示没有可用来源。
	Combine(signals []types.MarketSignal) (score, confidence float64, ok bool)
}

// ConfidenceWeighted 以「来源权重 × 置信度」加权平均评分。
// 只有一个已配置来源在线时，置信度乘以 SingleSourcePenalty。
type ConfidenceWeighted struct {
	Weights             map[types.SignalSource]float64
	SingleSourcePenalty float64
}

func (w ConfidenceWeighted) Name() string { return "confidence_weighted" }

func (w ConfidenceWeighted) Combine(signals []types.MarketSignal) (float64, float64, bool) {
	var (
		sumW, sumWC, sumWCS, sumWS float64
		present                    int
	)
	for _, s := range signals {
		weight := w.Weights[s.Source]
		if weight <= 0 {
			continue
		}
		present++
		sumW += weight
		sumWC += weight * s.Confidence
		sumWCS += weight * s.Confidence * s.Score
		sumWS += weight * s.Score
	}
	if present == 0 || sumW <= 0 {
		return 0, 0, false
	}
	var score float64
	if sumWC > 0 {
		score = sumWCS / sumWC
	} else {
		score = sumWS / sumW
	}
	confidence := sumWC / sumW
	if present == 1 && w.configured() > 1 {
		confidence *= w.penalty()
	}
	return clamp(score, -1, 1), clamp(confidence, 0, 1), true
}

func (w ConfidenceWeighted) configured() int {
	n := 0
	for _, v := range w.Weights {
		if v > 0 {
			n++
		}
	}
	return n
}

func (w ConfidenceWeighted) penalty() float64 {
	if w.SingleSourcePenalty <= 0 || w.SingleSourcePenalty > 1 {
		return 1
	}
	return w.SingleSourcePenalty
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
