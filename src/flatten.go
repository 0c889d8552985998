package main

import (
	"iter"
	"strconv"

	"github.com/ryansname/agate2mqtt/src/sunspec"
)

// TopicPrefix is the root of every published topic
const TopicPrefix = "FranklinWH"

// IncludeModels maps the SunSpec models we publish to their topic segment
var IncludeModels = map[uint16]string{
	sunspec.ModelDERMeasureAC:       "DERMeasureAC",
	sunspec.ModelDERStorageCapacity: "DERStorageCapacity",
	sunspec.ModelDERMeasureDC:       "DERMeasureDC",
	sunspec.ModelSolarModule:        "SolarModule",
}

// ExcludeKeys are never published, whatever model they appear in
var ExcludeKeys = map[string]struct{}{
	"ID":         {},
	"MnAlrmInfo": {},
}

// Registry maps model ID to the model's decoded fields
type Registry map[uint16]sunspec.Fields

// Pair is a single MQTT message to publish
type Pair struct {
	Topic string
	Value any
}

// Payload formats the value the way it goes on the wire
func (p Pair) Payload() string {
	switch v := p.Value.(type) {
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// isNumeric reports whether v is an integer or floating point value
func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// modelTopic builds the topic for one field of one model
func modelTopic(modelName, field string) string {
	return TopicPrefix + "/AGate/" + modelName + "/" + field
}

// selectAndFlatten yields a Pair for every numeric, non-excluded field of
// every included model present in the registry. The sequence can be ranged
// over any number of times; order is unspecified.
func selectAndFlatten(reg Registry, include map[uint16]string, exclude map[string]struct{}) iter.Seq[Pair] {
	return func(yield func(Pair) bool) {
		for id, name := range include {
			fields, ok := reg[id]
			if !ok {
				continue
			}
			for key, value := range fields {
				if _, skip := exclude[key]; skip {
					continue
				}
				if !isNumeric(value) {
					continue
				}
				if !yield(Pair{Topic: modelTopic(name, key), Value: value}) {
					return
				}
			}
		}
	}
}
