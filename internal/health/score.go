// Package health computes the conversation-health score: a single
// 0-100 number combining up to seven signals, each weighted by a
// profile chosen from which signals are actually available, with
// unavailable signals dropped and the remaining weights renormalized.
package health

import "fmt"

// SessionFatigue carries the MCP session signals that feed the
// session_fatigue and chat_quality components.
type SessionFatigue struct {
	SessionFatigue      float64
	ToolCallBurden      float64
	EstimatedContextPct float64
	ClientLabel         string
}

// Component is one scored signal in the weighted combination.
type Component struct {
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail"`
}

// DangerZone reports a model's context danger-zone threshold and
// whether the current usage is past it.
type DangerZone struct {
	Model            string  `json:"model"`
	DangerZonePercent float64 `json:"danger_zone_percent"`
	InDangerZone     bool    `json:"in_danger_zone"`
}

// Score is the full §4.6 contract payload.
type Score struct {
	HealthScore    float64              `json:"health_score"`
	Rating         string               `json:"rating"`
	Source         string               `json:"source"`
	Components     map[string]Component `json:"components"`
	Recommendation string               `json:"recommendation,omitempty"`
	DangerZone     *DangerZone          `json:"danger_zone,omitempty"`
}

// Inputs bundles every (possibly-absent) signal. Pointer/pointer-like
// zero values (nil maps, negative sentinels) mean "not available" and
// drop the corresponding weight rather than scoring as zero.
type Inputs struct {
	ContextPercent      float64
	LatencyRatio        *float64
	CostEfficiencyTrend *float64
	SessionFatigue      *SessionFatigue
	VRAMPressure        *float64
	InferenceTrend      *float64
	Model               string
	ClientLabel         string
	DangerZonePercent   float64 // 0 means "unknown model", falls back to 65 when Model != ""
}

var defaultThresholds = map[string]float64{
	"excellent": 90, "good": 70, "fair": 50, "poor": 30,
}

type weightProfile struct {
	context, latency, cost, fatigue, burden, vram, inference float64
}

var (
	apiProfile = weightProfile{context: 0.45, latency: 0.30, cost: 0.25}
	mcpProfile = weightProfile{context: 0.25, latency: 0.15, fatigue: 0.35, burden: 0.25}
	localProfile = weightProfile{context: 0.30, latency: 0.30, vram: 0.25, inference: 0.15}
)

// Calculate scores every available signal, resolves weights, and
// combines into a single Score.
func Calculate(in Inputs) Score {
	hasCost := in.CostEfficiencyTrend != nil
	hasSession := in.SessionFatigue != nil
	hasVRAM := in.VRAMPressure != nil
	hasInference := in.InferenceTrend != nil
	hasLatency := in.LatencyRatio != nil

	profile := apiProfile
	switch {
	case hasSession:
		profile = mcpProfile
	case hasVRAM:
		profile = localProfile
	}

	weights := map[string]float64{"context_freshness": profile.context}
	if hasLatency {
		weights["latency_health"] = profile.latency
	}
	if hasCost {
		weights["cost_efficiency"] = profile.cost
	}
	if hasSession {
		weights["session_fatigue"] = profile.fatigue
		weights["tool_call_burden"] = profile.burden
	}
	if hasVRAM {
		weights["vram_pressure"] = profile.vram
	}
	if hasInference {
		weights["inference_throughput"] = profile.inference
	}
	if weights["context_freshness"] == 0 {
		weights["context_freshness"] = 0.45
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total > 0 {
		for k := range weights {
			weights[k] = round3(weights[k] / total)
		}
	} else {
		weights = map[string]float64{"context_freshness": 1.0}
	}

	var dangerZone *float64
	if in.Model != "" {
		dz := in.DangerZonePercent
		if dz == 0 {
			dz = 65
		}
		dangerZone = &dz
	}

	components := map[string]Component{}

	contextScore := scoreContextFreshness(in.ContextPercent, dangerZone)
	components["context_freshness"] = Component{
		Score: contextScore, Weight: weights["context_freshness"],
		Detail: humanContextDetail(contextScore, in.ContextPercent),
	}

	latencyScore, latencyDetail := scoreLatency(in.LatencyRatio)
	components["latency_health"] = Component{Score: latencyScore, Weight: weights["latency_health"], Detail: latencyDetail}

	costScore, costDetail := scoreCostEfficiency(in.CostEfficiencyTrend)
	components["cost_efficiency"] = Component{Score: costScore, Weight: weights["cost_efficiency"], Detail: costDetail}

	var fatigueVal, burdenVal float64
	if hasSession {
		fatigueVal = in.SessionFatigue.SessionFatigue
		burdenVal = in.SessionFatigue.ToolCallBurden
	}
	fatigueScore := clampLow0(100 - fatigueVal)
	components["session_fatigue"] = Component{
		Score: fatigueScore, Weight: weights["session_fatigue"],
		Detail: humanFatigueDetail(fatigueScore, in.SessionFatigue),
	}

	burdenScore := clampLow0(100 - burdenVal)
	components["chat_quality"] = Component{
		Score: burdenScore, Weight: weights["tool_call_burden"],
		Detail: humanDegradationDetail(burdenScore, in.ContextPercent, in.SessionFatigue),
	}

	vramScore := scoreVRAMPressure(in.VRAMPressure)
	vramDetail := "No VRAM data"
	if in.VRAMPressure != nil {
		vramDetail = fmt.Sprintf("VRAM at %.0f%%", *in.VRAMPressure)
	}
	components["vram_pressure"] = Component{Score: vramScore, Weight: weights["vram_pressure"], Detail: vramDetail}

	inferenceScore, inferenceDetail := scoreInferenceThroughput(in.InferenceTrend)
	components["inference_throughput"] = Component{Score: inferenceScore, Weight: weights["inference_throughput"], Detail: inferenceDetail}

	var weighted float64
	for _, c := range components {
		if c.Weight > 0 {
			weighted += c.Score * c.Weight
		}
	}
	weighted = clamp(round1(weighted), 0, 100)

	rating := rate(weighted, defaultThresholds)
	recommendation := buildRecommendation(weighted, in.SessionFatigue, dangerZone, in.ContextPercent)
	source := determineSource(in.SessionFatigue, in.VRAMPressure, in.InferenceTrend, in.CostEfficiencyTrend, in.ClientLabel)

	activeComponents := map[string]Component{}
	for k, c := range components {
		if c.Weight > 0 {
			activeComponents[k] = c
		}
	}

	result := Score{
		HealthScore:    weighted,
		Rating:         rating,
		Source:         source,
		Components:     activeComponents,
		Recommendation: recommendation,
	}
	if dangerZone != nil {
		result.DangerZone = &DangerZone{
			Model: in.Model, DangerZonePercent: *dangerZone,
			InDangerZone: in.ContextPercent >= *dangerZone,
		}
	}
	return result
}

func scoreContextFreshness(percentUsed float64, dangerZone *float64) float64 {
	if percentUsed <= 0 {
		return 100
	}
	dz := 65.0
	if dangerZone != nil {
		dz = *dangerZone
	}
	switch {
	case percentUsed <= dz*0.6:
		return 100
	case percentUsed <= dz:
		return 100 - (percentUsed-dz*0.6)*(50/(dz*0.4))
	case percentUsed <= 95:
		span := 95 - dz
		if span > 0 {
			return clampLow0(50 - (percentUsed-dz)*(50/span))
		}
		return 0
	default:
		return 0
	}
}

func scoreLatency(ratio *float64) (float64, string) {
	if ratio == nil {
		return 100, "Not enough data to assess latency"
	}
	r := *ratio
	switch {
	case r <= 1.0:
		return 100, "Latency stable or improving"
	case r <= 1.5:
		return round1(100 - (r-1.0)*(40/0.5)), fmt.Sprintf("Latency slightly increased (%.1fx)", r)
	case r <= 2.0:
		return round1(60 - (r-1.5)*(40/0.5)), fmt.Sprintf("Latency degrading (%.1fx slower)", r)
	case r <= 3.0:
		return round1(clampLow0(20 - (r-2.0)*20)), fmt.Sprintf("Latency severely degraded (%.1fx slower)", r)
	default:
		return 0, fmt.Sprintf("Latency extremely degraded (%.1fx slower)", r)
	}
}

func scoreCostEfficiency(trend *float64) (float64, string) {
	if trend == nil {
		return 100, "Not enough data to assess cost efficiency"
	}
	t := *trend
	switch {
	case t <= 1.0:
		return 100, "Cost efficiency stable or improving"
	case t <= 1.5:
		return round1(100 - (t-1.0)*(40/0.5)), fmt.Sprintf("Cost per response increasing slightly (%.1fx)", t)
	case t <= 2.0:
		return round1(60 - (t-1.5)*(40/0.5)), fmt.Sprintf("Cost per response increasing (%.1fx more expensive)", t)
	default:
		return round1(clampLow0(20 - (t-2.0)*20)), fmt.Sprintf("Cost per response significantly increased (%.1fx)", t)
	}
}

func scoreVRAMPressure(vram *float64) float64 {
	if vram == nil {
		return 100
	}
	v := *vram
	switch {
	case v <= 50:
		return 100
	case v <= 75:
		return 100 - (v-50)*(30/25)
	case v <= 90:
		return 70 - (v-75)*(40/15)
	default:
		return clampLow0(30 - (v-90)*(30/10))
	}
}

func scoreInferenceThroughput(trend *float64) (float64, string) {
	if trend == nil {
		return 100, "No inference data"
	}
	t := *trend
	switch {
	case t >= 1.0:
		return 100, "Inference speed stable or improving"
	case t >= 0.8:
		return round1(100 - (1.0-t)*(40/0.2)), fmt.Sprintf("Inference speed slightly decreased (%.2fx)", t)
	case t >= 0.5:
		return round1(clampLow0(60 - (0.8-t)*(40/0.3))), fmt.Sprintf("Inference speed degrading (%.2fx)", t)
	default:
		return 0, fmt.Sprintf("Inference speed critically low (%.2fx of initial)", t)
	}
}

func rate(score float64, thresholds map[string]float64) string {
	switch {
	case score >= thresholds["excellent"]:
		return "excellent"
	case score >= thresholds["good"]:
		return "good"
	case score >= thresholds["fair"]:
		return "fair"
	case score >= thresholds["poor"]:
		return "poor"
	default:
		return "critical"
	}
}

func buildRecommendation(score float64, fatigue *SessionFatigue, dangerZone *float64, contextPercent float64) string {
	if score >= 70 {
		return ""
	}
	if score < 30 {
		return "This conversation is losing quality. Summarize your progress and start a fresh session."
	}
	if dangerZone != nil && contextPercent >= *dangerZone {
		return "The AI is struggling to keep track of everything. A fresh conversation will give better results."
	}
	if fatigue != nil && fatigue.SessionFatigue > 50 {
		return "This session has been going a while. Consider summarizing key points and starting fresh."
	}
	if score < 50 {
		return "Quality is declining. A new conversation will give you better, more focused responses."
	}
	return "Keep an eye on quality -- it may start declining as the conversation grows."
}

func determineSource(fatigue *SessionFatigue, vram, inference, cost *float64, clientLabel string) string {
	var sources []string
	if fatigue != nil {
		label := clientLabel
		if label == "" {
			label = fatigue.ClientLabel
		}
		if label == "" {
			label = "Claude Code"
		}
		sources = append(sources, fmt.Sprintf("MCP Session (%s)", label))
	}
	if vram != nil {
		sources = append(sources, "Ollama (Local LLM)")
	}
	if cost != nil {
		sources = append(sources, "LLM API")
	}
	if inference != nil && !containsOllama(sources) {
		sources = append(sources, "Local LLM")
	}
	if len(sources) == 0 {
		return "No active LLM signals -- baseline score"
	}
	out := sources[0]
	for _, s := range sources[1:] {
		out += " + " + s
	}
	return out
}

func containsOllama(sources []string) bool {
	for _, s := range sources {
		if s == "Ollama (Local LLM)" {
			return true
		}
	}
	return false
}

func humanContextDetail(score, contextPercent float64) string {
	switch {
	case contextPercent <= 0:
		return "No context data yet"
	case score >= 90:
		return "Conversation is fresh with plenty of room"
	case score >= 70:
		return "Good room remaining -- conversation quality is strong"
	case score >= 50:
		return "Past halfway -- still good, but plan for a new session soon"
	case score >= 30:
		return "Getting crowded -- responses may start losing earlier context"
	default:
		return "Nearly full -- start a new conversation for best quality"
	}
}

func humanFatigueDetail(score float64, fatigue *SessionFatigue) string {
	if fatigue == nil {
		return "No session data"
	}
	switch {
	case score >= 90:
		return "Fresh session -- no signs of fatigue"
	case score >= 70:
		return "Session is healthy -- everything running smoothly"
	case score >= 50:
		return "Session has been running a while -- consider summarizing key points"
	case score >= 30:
		return "Extended session -- a fresh start would improve quality"
	default:
		return "Very long session -- summarize progress and start new for best results"
	}
}

func humanDegradationDetail(burdenScore, contextPercent float64, fatigue *SessionFatigue) string {
	_ = fatigue
	switch {
	case burdenScore >= 90 && contextPercent < 50:
		return "No signs of quality loss -- conversation is clean"
	case burdenScore >= 70 && contextPercent < 60:
		return "Quality is holding steady"
	case burdenScore >= 70:
		return "Quality is good, but context is filling up"
	case burdenScore >= 50:
		return "Some quality pressure -- heavier tool use is filling context faster"
	case burdenScore >= 30:
		return "Quality declining -- heavy activity is crowding the context window"
	default:
		return "Significant degradation -- too much context consumed, start fresh"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampLow0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func round1(v float64) float64 { return float64(int64(v*10+0.5)) / 10 }
func round3(v float64) float64 { return float64(int64(v*1000+0.5)) / 1000 }
