package pipeline

import (
	"errors"
	"strconv"
	"strings"
)

var reasoningMarkers = []string{"because", "therefore", "thus", "since", "as a result"}

// AnalyzeMetrics is the built-in analysis function. It extracts basic
// length and reasoning metrics from a single response.
func AnalyzeMetrics(metadata map[string]interface{}, rawOutput, thinking, response string) (map[string]interface{}, error) {
	result := map[string]interface{}{
		"response_num":    metadataNumber(metadata, "response_num", 0),
		"model":           metadataString(metadata, "model", "unknown"),
		"temperature":     metadataNumber(metadata, "temperature", 0),
		"generation_time": metadataNumber(metadata, "generation_time_seconds", 0),
	}

	result["has_thinking"] = len(thinking) > 0
	result["thinking_length"] = len(thinking)
	result["thinking_word_count"] = len(strings.Fields(thinking))
	result["response_length"] = len(response)
	result["response_word_count"] = len(strings.Fields(response))

	if len(response) > 0 {
		result["thinking_response_ratio"] = float64(len(thinking)) / float64(len(response))
	} else {
		result["thinking_response_ratio"] = float64(0)
	}

	result["question_count"] = strings.Count(response, "?")

	markerCount := 0
	lowerThinking := strings.ToLower(thinking)
	for _, marker := range reasoningMarkers {
		markerCount += strings.Count(lowerThinking, marker)
	}
	result["reasoning_marker_count"] = markerCount

	return result, nil
}

// SummarizeMetrics is the built-in summary function. It aggregates the
// per-response metrics produced by AnalyzeMetrics, including averages
// broken down by sampling temperature.
func SummarizeMetrics(results []map[string]interface{}) (map[string]interface{}, error) {
	if len(results) == 0 {
		return nil, errors.New("no results to aggregate")
	}

	total := len(results)
	thinkingResponses := 0
	var responseLength, thinkingLength, generationTime, markers, ratio float64
	byTemperature := map[string][]map[string]interface{}{}

	for _, result := range results {
		if boolValue(result, "has_thinking") {
			thinkingResponses++
		}
		responseLength += numberValue(result, "response_length")
		thinkingLength += numberValue(result, "thinking_length")
		generationTime += numberValue(result, "generation_time")
		markers += numberValue(result, "reasoning_marker_count")
		ratio += numberValue(result, "thinking_response_ratio")

		key := strconv.FormatFloat(numberValue(result, "temperature"), 'g', -1, 64)
		byTemperature[key] = append(byTemperature[key], result)
	}

	temperatureAnalysis := map[string]interface{}{}
	for key, group := range byTemperature {
		groupThinking := 0
		var groupResponse, groupThinkingLen, groupTime float64
		for _, result := range group {
			if boolValue(result, "has_thinking") {
				groupThinking++
			}
			groupResponse += numberValue(result, "response_length")
			groupThinkingLen += numberValue(result, "thinking_length")
			groupTime += numberValue(result, "generation_time")
		}
		count := float64(len(group))
		temperatureAnalysis[key] = map[string]interface{}{
			"count":               len(group),
			"thinking_percentage": float64(groupThinking) / count * 100,
			"avg_response_length": groupResponse / count,
			"avg_thinking_length": groupThinkingLen / count,
			"avg_generation_time": groupTime / count,
		}
	}

	count := float64(total)
	return map[string]interface{}{
		"total_responses":       total,
		"thinking_responses":    thinkingResponses,
		"thinking_percentage":   float64(thinkingResponses) / count * 100,
		"avg_response_length":   responseLength / count,
		"avg_thinking_length":   thinkingLength / count,
		"avg_generation_time":   generationTime / count,
		"avg_reasoning_markers": markers / count,
		"avg_thinking_ratio":    ratio / count,
		"temperature_analysis":  temperatureAnalysis,
	}, nil
}

func metadataString(metadata map[string]interface{}, key, fallback string) string {
	if value, ok := metadata[key].(string); ok {
		return value
	}
	return fallback
}

func metadataNumber(metadata map[string]interface{}, key string, fallback float64) float64 {
	if metadata == nil {
		return fallback
	}
	return toNumber(metadata[key], fallback)
}

func boolValue(result map[string]interface{}, key string) bool {
	value, _ := result[key].(bool)
	return value
}

func numberValue(result map[string]interface{}, key string) float64 {
	return toNumber(result[key], 0)
}

func toNumber(value interface{}, fallback float64) float64 {
	switch typed := value.(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	default:
		return fallback
	}
}
