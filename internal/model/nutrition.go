package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var errNotObject = errors.New("model: value is not a JSON object")

// FoodItem is one identified component of a meal.
type FoodItem struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Calories Amount `json:"calories"`
	Protein  Amount `json:"protein"`
	Carbs    Amount `json:"carbs"`
	Fat      Amount `json:"fat"`
}

// NutritionResult is the canonical analysis record. Total is reported by the
// upstream service and is not checked against the sum of Food.
type NutritionResult struct {
	Status  bool       `json:"status"`
	Food    []FoodItem `json:"food"`
	Total   Macros     `json:"total"`
	Recipes []Recipe   `json:"recipes"`
}

// Amount is a nutrient quantity. Decoding accepts numbers and numeric strings;
// any other value decodes to zero.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	*a = Amount(number(data))
	return nil
}

// Truthy holds the truthiness of an arbitrary JSON value: false, 0, "" and
// null are false, everything else (including {} and []) is true.
type Truthy bool

func (t *Truthy) UnmarshalJSON(data []byte) error {
	*t = Truthy(truthy(data))
	return nil
}

// UnmarshalJSON decodes a result without validating nested values. Entries
// that are not objects are skipped, unusable fields are left at zero and
// missing collections become empty.
func (r *NutritionResult) UnmarshalJSON(data []byte) error {
	fields, err := object(data)
	if err != nil {
		return err
	}

	out := NutritionResult{
		Status:  truthy(fields["status"]),
		Food:    []FoodItem{},
		Recipes: []Recipe{},
	}

	for _, raw := range array(fields["food"]) {
		f, err := object(raw)
		if err != nil {
			continue
		}
		out.Food = append(out.Food, FoodItem{
			Name:     text(f["name"]),
			Quantity: text(f["quantity"]),
			Calories: Amount(number(f["calories"])),
			Protein:  Amount(number(f["protein"])),
			Carbs:    Amount(number(f["carbs"])),
			Fat:      Amount(number(f["fat"])),
		})
	}

	if t, err := object(fields["total"]); err == nil {
		out.Total = Macros{
			Calories: Amount(number(t["calories"])),
			Protein:  Amount(number(t["protein"])),
			Carbs:    Amount(number(t["carbs"])),
			Fat:      Amount(number(t["fat"])),
		}
	}

	for _, raw := range array(fields["recipes"]) {
		rec, err := object(raw)
		if err != nil {
			continue
		}
		out.Recipes = append(out.Recipes, Recipe{
			Title:       text(rec["title"]),
			Description: text(rec["description"]),
			Ingredients: texts(rec["ingredients"]),
			Steps:       texts(rec["steps"]),
		})
	}

	*r = out
	return nil
}

// object decodes a JSON object into its raw members.
func object(data []byte) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errNotObject
	}
	return m, nil
}

func array(data []byte) []json.RawMessage {
	var a []json.RawMessage
	if err := json.Unmarshal(data, &a); err != nil {
		return nil
	}
	return a
}

func text(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	switch data[0] {
	case '{', '[', 'n':
		return ""
	}
	// numbers and booleans keep their literal form
	return string(data)
}

func texts(data []byte) []string {
	out := []string{}
	for _, raw := range array(data) {
		out = append(out, text(raw))
	}
	return out
}

func number(data []byte) float64 {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

func truthy(data []byte) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return false
	}
	switch data[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		var s string
		return json.Unmarshal(data, &s) == nil && s != ""
	default:
		var f float64
		return json.Unmarshal(data, &f) == nil && f != 0
	}
}
