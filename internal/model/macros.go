package model

// Macros represents the aggregate nutrition of a meal.
type Macros struct {
	Calories Amount `json:"calories"`
	Protein  Amount `json:"protein"`
	Carbs    Amount `json:"carbs"`
	Fat      Amount `json:"fat"`
}

// Energy returns the calories implied by the macronutrients (4/4/9 kcal per gram).
func (m Macros) Energy() float64 {
	return float64(m.Protein)*4 + float64(m.Carbs)*4 + float64(m.Fat)*9
}
