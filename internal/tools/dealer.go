package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lotwise/driveline/pkg/schema"
)

// DealerTools returns the dealership operations pack. These are
// deterministic in-process stand-ins for the dealer group's inventory,
// finance, and appraisal systems; given the same params they always produce
// the same answer, which keeps workflow runs reproducible.
func DealerTools() []Tool {
	return []Tool{
		&searchInventoryTool{fleet: demoFleet()},
		&quoteFinanceTool{},
		&valueTradeInTool{},
		&scheduleTestDriveTool{},
		&cancelTestDriveTool{},
	}
}

// vehicle is one unit on the lot.
type vehicle struct {
	VIN       string  `json:"vin"`
	Make      string  `json:"make"`
	Model     string  `json:"model"`
	Year      int     `json:"year"`
	Price     float64 `json:"price"`
	Mileage   int     `json:"mileage"`
	BodyStyle string  `json:"body_style"`
}

func demoFleet() []vehicle {
	return []vehicle{
		{VIN: "1FTEW1EP5MKD10001", Make: "Ford", Model: "F-150", Year: 2023, Price: 54990, Mileage: 12850, BodyStyle: "truck"},
		{VIN: "1FTEW1EP5MKD10002", Make: "Ford", Model: "F-150", Year: 2021, Price: 41200, Mileage: 46210, BodyStyle: "truck"},
		{VIN: "1FMSK8DH1MGA20001", Make: "Ford", Model: "Explorer", Year: 2022, Price: 38900, Mileage: 30125, BodyStyle: "suv"},
		{VIN: "1C4RJFBG8MC30001", Make: "Jeep", Model: "Grand Cherokee", Year: 2023, Price: 46750, Mileage: 9980, BodyStyle: "suv"},
		{VIN: "3GNAXUEV1ML40001", Make: "Chevrolet", Model: "Equinox", Year: 2022, Price: 27400, Mileage: 28440, BodyStyle: "suv"},
		{VIN: "1G1ZD5ST8LF50001", Make: "Chevrolet", Model: "Malibu", Year: 2020, Price: 21900, Mileage: 51230, BodyStyle: "sedan"},
		{VIN: "5TDGZRBH2MS60001", Make: "Toyota", Model: "Highlander", Year: 2023, Price: 44300, Mileage: 15870, BodyStyle: "suv"},
		{VIN: "4T1G11AK5MU70001", Make: "Toyota", Model: "Camry", Year: 2021, Price: 25600, Mileage: 38900, BodyStyle: "sedan"},
	}
}

// --- search_inventory ---

type searchInventoryTool struct {
	fleet []vehicle
}

func (t *searchInventoryTool) Name() string { return "search_inventory" }

func (t *searchInventoryTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Search the dealer group's live inventory by make, model, body style, and price",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"make": { "type": "string" },
				"model": { "type": "string" },
				"body_style": { "type": "string" },
				"max_price": { "type": "number", "minimum": 0 },
				"max_mileage": { "type": "integer", "minimum": 0 }
			},
			"additionalProperties": false
		}`),
	}
}

func (t *searchInventoryTool) Execute(_ context.Context, input ToolInput) (*ToolOutput, error) {
	wantMake, _ := input.Params["make"].(string)
	wantModel, _ := input.Params["model"].(string)
	wantBody, _ := input.Params["body_style"].(string)
	maxPrice := floatParam(input.Params, "max_price")
	maxMileage := floatParam(input.Params, "max_mileage")

	matches := make([]vehicle, 0, len(t.fleet))
	for _, v := range t.fleet {
		if wantMake != "" && !strings.EqualFold(v.Make, wantMake) {
			continue
		}
		if wantModel != "" && !strings.EqualFold(v.Model, wantModel) {
			continue
		}
		if wantBody != "" && !strings.EqualFold(v.BodyStyle, wantBody) {
			continue
		}
		if maxPrice > 0 && v.Price > maxPrice {
			continue
		}
		if maxMileage > 0 && float64(v.Mileage) > maxMileage {
			continue
		}
		matches = append(matches, v)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Price < matches[j].Price })

	return marshalOutput(map[string]any{
		"count":    len(matches),
		"vehicles": matches,
	})
}

// --- quote_finance ---

type quoteFinanceTool struct{}

func (t *quoteFinanceTool) Name() string { return "quote_finance" }

func (t *quoteFinanceTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Quote a monthly payment for a vehicle price, down payment, APR, and term",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"required": ["price"],
			"properties": {
				"price": { "type": "number", "exclusiveMinimum": 0 },
				"down_payment": { "type": "number", "minimum": 0 },
				"apr": { "type": "number", "minimum": 0, "maximum": 40 },
				"term_months": { "type": "integer", "minimum": 12, "maximum": 96 }
			},
			"additionalProperties": false
		}`),
	}
}

func (t *quoteFinanceTool) Execute(_ context.Context, input ToolInput) (*ToolOutput, error) {
	price := floatParam(input.Params, "price")
	down := floatParam(input.Params, "down_payment")
	apr := floatParam(input.Params, "apr")
	term := floatParam(input.Params, "term_months")
	if apr == 0 {
		apr = 7.9
	}
	if term == 0 {
		term = 60
	}

	principal := price - down
	if principal <= 0 {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"down payment covers the full price; nothing to finance")
	}

	monthlyRate := apr / 100 / 12
	var payment float64
	if monthlyRate == 0 {
		payment = principal / term
	} else {
		factor := math.Pow(1+monthlyRate, term)
		payment = principal * monthlyRate * factor / (factor - 1)
	}
	payment = math.Round(payment*100) / 100
	totalCost := math.Round(payment*term*100) / 100

	return marshalOutput(map[string]any{
		"principal":       principal,
		"apr":             apr,
		"term_months":     int(term),
		"monthly_payment": payment,
		"total_cost":      totalCost,
		"total_interest":  math.Round((totalCost-principal)*100) / 100,
	})
}

// --- value_trade_in ---

type valueTradeInTool struct{}

func (t *valueTradeInTool) Name() string { return "value_trade_in" }

func (t *valueTradeInTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Estimate the trade-in value of a customer vehicle",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"required": ["year", "mileage"],
			"properties": {
				"vin": { "type": "string" },
				"year": { "type": "integer", "minimum": 1980 },
				"make": { "type": "string" },
				"model": { "type": "string" },
				"mileage": { "type": "integer", "minimum": 0 },
				"condition": { "type": "string", "enum": ["excellent", "good", "fair", "poor"] }
			},
			"additionalProperties": false
		}`),
	}
}

func (t *valueTradeInTool) Execute(_ context.Context, input ToolInput) (*ToolOutput, error) {
	year := floatParam(input.Params, "year")
	mileage := floatParam(input.Params, "mileage")
	condition, _ := input.Params["condition"].(string)
	if condition == "" {
		condition = "good"
	}

	// Flat depreciation model: a notional 38k base loses 9% per model year
	// and 8 cents per mile, floored at scrap value.
	const baseValue = 38000.0
	age := float64(time.Now().UTC().Year()) - year
	if age < 0 {
		age = 0
	}
	value := baseValue * math.Pow(0.91, age)
	value -= mileage * 0.08

	multiplier := map[string]float64{
		"excellent": 1.1,
		"good":      1.0,
		"fair":      0.85,
		"poor":      0.6,
	}[condition]
	if multiplier == 0 {
		multiplier = 1.0
	}
	value *= multiplier
	if value < 500 {
		value = 500
	}
	value = math.Round(value/50) * 50

	return marshalOutput(map[string]any{
		"estimated_value": value,
		"condition":       condition,
		"valid_days":      7,
	})
}

// --- schedule_test_drive ---

type scheduleTestDriveTool struct{}

func (t *scheduleTestDriveTool) Name() string { return "schedule_test_drive" }

func (t *scheduleTestDriveTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Book a test drive slot for a vehicle on the lot",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"required": ["vin", "customer_name"],
			"properties": {
				"vin": { "type": "string", "minLength": 11 },
				"customer_name": { "type": "string", "minLength": 1 },
				"preferred_slot": { "type": "string" }
			},
			"additionalProperties": false
		}`),
	}
}

func (t *scheduleTestDriveTool) Execute(_ context.Context, input ToolInput) (*ToolOutput, error) {
	vin, _ := input.Params["vin"].(string)
	customer, _ := input.Params["customer_name"].(string)
	slot, _ := input.Params["preferred_slot"].(string)
	if slot == "" {
		slot = "next-available"
	}

	input.Progress(map[string]any{"stage": "checking_availability", "vin": vin})
	input.Progress(map[string]any{"stage": "holding_slot", "slot": slot})

	return marshalOutput(map[string]any{
		"confirmation": testDriveConfirmation(vin, customer, slot),
		"vin":          vin,
		"slot":         slot,
		"status":       "BOOKED",
	})
}

// Confirmation codes derive from the booking inputs, so a cancellation given
// the same inputs recomputes the code it releases.
func testDriveConfirmation(vin, customer, slot string) string {
	h := fnv.New32a()
	h.Write([]byte(vin + "|" + customer + "|" + slot))
	return fmt.Sprintf("TD-%08X", h.Sum32())
}

// --- cancel_test_drive ---

type cancelTestDriveTool struct{}

func (t *cancelTestDriveTool) Name() string { return "cancel_test_drive" }

func (t *cancelTestDriveTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Release a booked test drive slot; the compensation counterpart of schedule_test_drive",
		ParamSchema: json.RawMessage(`{
			"type": "object",
			"required": ["vin", "customer_name"],
			"properties": {
				"vin": { "type": "string", "minLength": 11 },
				"customer_name": { "type": "string", "minLength": 1 },
				"preferred_slot": { "type": "string" },
				"reason": { "type": "string" }
			},
			"additionalProperties": false
		}`),
	}
}

func (t *cancelTestDriveTool) Execute(_ context.Context, input ToolInput) (*ToolOutput, error) {
	vin, _ := input.Params["vin"].(string)
	customer, _ := input.Params["customer_name"].(string)
	slot, _ := input.Params["preferred_slot"].(string)
	if slot == "" {
		slot = "next-available"
	}
	reason, _ := input.Params["reason"].(string)
	if reason == "" {
		reason = "unspecified"
	}

	return marshalOutput(map[string]any{
		"confirmation": testDriveConfirmation(vin, customer, slot),
		"vin":          vin,
		"status":       "CANCELLED",
		"reason":       reason,
	})
}

// floatParam reads a numeric param that may arrive as any JSON number type.
func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
