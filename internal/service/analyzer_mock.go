package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phixlab/nutrilens/backend/internal/model"
)

const (
	mockBaseCalories  = 200
	mockCalorieSpread = 600
	mockMinCarbs      = 5
)

// MockAnalyzer produces random but internally consistent nutrition figures.
// It stands in for a real inference service.
type MockAnalyzer struct {
	latency time.Duration
	mu      sync.Mutex
	rng     *rand.Rand
	log     *logrus.Entry
}

// NewMockAnalyzer creates a mock analyzer. A nil src seeds from the clock.
func NewMockAnalyzer(latency time.Duration, src rand.Source) *MockAnalyzer {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>1|1)
	}
	return &MockAnalyzer{
		latency: latency,
		rng:     rand.New(src),
		log:     logrus.WithField("component", "mock_analyzer"),
	}
}

// MockMacros derives protein, fat and carbs from a calorie figure using a
// 15% protein / 30% fat split with the remainder as carbs (at least 5 g).
func MockMacros(calories int) model.Macros {
	protein := calories * 15 / 400
	fat := calories * 30 / 900
	carbs := (calories - protein*4 - fat*9) / 4
	if carbs < mockMinCarbs {
		carbs = mockMinCarbs
	}
	return model.Macros{
		Calories: model.Amount(calories),
		Protein:  model.Amount(protein),
		Carbs:    model.Amount(carbs),
		Fat:      model.Amount(fat),
	}
}

// Macros draws a calorie figure in [200, 800) and derives the macros from it
func (m *MockAnalyzer) Macros() model.Macros {
	m.mu.Lock()
	calories := mockBaseCalories + m.rng.IntN(mockCalorieSpread)
	m.mu.Unlock()
	return MockMacros(calories)
}

// Estimate waits for the simulated latency and returns random macros
func (m *MockAnalyzer) Estimate(ctx context.Context) (model.Macros, error) {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return model.Macros{}, ctx.Err()
		case <-timer.C:
		}
	}
	return m.Macros(), nil
}

// Analyze returns a full result payload built around random macros
func (m *MockAnalyzer) Analyze(ctx context.Context, img ImagePayload) ([]byte, error) {
	macros, err := m.Estimate(ctx)
	if err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{
		"image":    img.Name,
		"bytes":    len(img.Data),
		"calories": float64(macros.Calories),
	}).Debug("Generated mock analysis")

	res := model.NutritionResult{
		Status: true,
		Food: []model.FoodItem{{
			Name:     "Plated meal",
			Quantity: "1 serving",
			Calories: macros.Calories,
			Protein:  macros.Protein,
			Carbs:    macros.Carbs,
			Fat:      macros.Fat,
		}},
		Total:   macros,
		Recipes: SuggestRecipes(macros),
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mock result: %w", err)
	}
	return data, nil
}

// SuggestRecipes picks illustrative recipes for the calorie band of a meal
func SuggestRecipes(m model.Macros) []model.Recipe {
	switch {
	case m.Calories < 400:
		return []model.Recipe{
			{
				Title:       "Green Goddess Salad",
				Description: "A crisp, light bowl with a herby yogurt dressing.",
				Ingredients: []string{"romaine", "cucumber", "avocado", "greek yogurt", "basil", "lemon"},
				Steps:       []string{"Chop the vegetables.", "Blend yogurt, basil and lemon.", "Toss and serve."},
			},
			{
				Title:       "Miso Vegetable Soup",
				Description: "A warming broth with tofu and greens.",
				Ingredients: []string{"miso paste", "tofu", "spinach", "spring onion", "water"},
				Steps:       []string{"Heat the water without boiling.", "Whisk in the miso.", "Add tofu and spinach, garnish."},
			},
		}
	case m.Calories < 600:
		return []model.Recipe{
			{
				Title:       "Chicken Quinoa Bowl",
				Description: "Balanced protein and grains with roasted vegetables.",
				Ingredients: []string{"chicken breast", "quinoa", "bell pepper", "zucchini", "olive oil"},
				Steps:       []string{"Cook the quinoa.", "Roast the vegetables.", "Grill the chicken.", "Assemble the bowl."},
			},
			{
				Title:       "Salmon with Sweet Potato",
				Description: "Oven-baked salmon with a side of mashed sweet potato.",
				Ingredients: []string{"salmon fillet", "sweet potato", "garlic", "dill"},
				Steps:       []string{"Boil and mash the sweet potato.", "Season the salmon.", "Bake for 12 minutes.", "Plate together."},
			},
		}
	default:
		return []model.Recipe{
			{
				Title:       "Beef and Bean Chili",
				Description: "A hearty, slow-simmered chili.",
				Ingredients: []string{"ground beef", "kidney beans", "tomatoes", "onion", "chili powder"},
				Steps:       []string{"Brown the beef with onion.", "Add tomatoes, beans and spices.", "Simmer for 30 minutes."},
			},
			{
				Title:       "Pasta Primavera",
				Description: "Whole-wheat pasta tossed with spring vegetables.",
				Ingredients: []string{"whole-wheat pasta", "peas", "asparagus", "parmesan", "olive oil"},
				Steps:       []string{"Cook the pasta.", "Sauté the vegetables.", "Toss with parmesan and oil."},
			},
		}
	}
}
