package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotwise/driveline/pkg/schema"
)

func execTool(t *testing.T, tool Tool, params map[string]any) map[string]any {
	t.Helper()
	out, err := tool.Execute(context.Background(), ToolInput{Params: params})
	require.NoError(t, err)
	require.NotNil(t, out)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &decoded))
	return decoded
}

func findTool(t *testing.T, name string) Tool {
	t.Helper()
	for _, tool := range DealerTools() {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("dealer pack has no tool %q", name)
	return nil
}

func TestSearchInventory_FilterByMake(t *testing.T) {
	got := execTool(t, findTool(t, "search_inventory"), map[string]any{"make": "ford"})

	assert.Equal(t, 3.0, got["count"])
	vehicles := got["vehicles"].([]any)
	require.Len(t, vehicles, 3)

	// Sorted by ascending price.
	first := vehicles[0].(map[string]any)
	assert.Equal(t, "Explorer", first["model"])
	last := vehicles[2].(map[string]any)
	assert.Equal(t, 54990.0, last["price"])
}

func TestSearchInventory_MaxPrice(t *testing.T) {
	got := execTool(t, findTool(t, "search_inventory"), map[string]any{"max_price": 30000})

	assert.Equal(t, 3.0, got["count"])
	vehicles := got["vehicles"].([]any)
	require.Len(t, vehicles, 3)
	assert.Equal(t, "Malibu", vehicles[0].(map[string]any)["model"])
	assert.Equal(t, "Camry", vehicles[1].(map[string]any)["model"])
	assert.Equal(t, "Equinox", vehicles[2].(map[string]any)["model"])
}

func TestSearchInventory_BodyStyleAndMileage(t *testing.T) {
	got := execTool(t, findTool(t, "search_inventory"), map[string]any{
		"body_style":  "suv",
		"max_mileage": 20000,
	})

	assert.Equal(t, 2.0, got["count"])
	vehicles := got["vehicles"].([]any)
	require.Len(t, vehicles, 2)
	assert.Equal(t, "Highlander", vehicles[0].(map[string]any)["model"])
	assert.Equal(t, "Grand Cherokee", vehicles[1].(map[string]any)["model"])
}

func TestSearchInventory_NoMatches(t *testing.T) {
	got := execTool(t, findTool(t, "search_inventory"), map[string]any{"make": "Rivian"})

	assert.Equal(t, 0.0, got["count"])
	assert.Empty(t, got["vehicles"])
}

func TestSearchInventory_Deterministic(t *testing.T) {
	tool := findTool(t, "search_inventory")
	params := map[string]any{"body_style": "sedan"}

	first := execTool(t, tool, params)
	second := execTool(t, tool, params)
	assert.Equal(t, first, second)
}

func TestQuoteFinance_StandardLoan(t *testing.T) {
	got := execTool(t, findTool(t, "quote_finance"), map[string]any{
		"price":        31000,
		"down_payment": 1000,
		"apr":          6.0,
		"term_months":  60,
	})

	assert.Equal(t, 30000.0, got["principal"])
	assert.Equal(t, 6.0, got["apr"])
	assert.Equal(t, 60.0, got["term_months"])

	payment := got["monthly_payment"].(float64)
	assert.InDelta(t, 580.0, payment, 1.0)

	totalCost := got["total_cost"].(float64)
	assert.InDelta(t, payment*60, totalCost, 0.01)
	assert.InDelta(t, totalCost-30000.0, got["total_interest"].(float64), 0.01)
}

func TestQuoteFinance_Defaults(t *testing.T) {
	got := execTool(t, findTool(t, "quote_finance"), map[string]any{"price": 20000})

	assert.Equal(t, 7.9, got["apr"])
	assert.Equal(t, 60.0, got["term_months"])
	assert.Greater(t, got["monthly_payment"].(float64), 20000.0/60)
}

func TestQuoteFinance_DownPaymentCoversPrice(t *testing.T) {
	tool := findTool(t, "quote_finance")
	_, err := tool.Execute(context.Background(), ToolInput{Params: map[string]any{
		"price":        20000,
		"down_payment": 20000,
	}})
	require.Error(t, err)

	var derr *schema.DrivelineError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
}

func TestValueTradeIn_CurrentYearGoodCondition(t *testing.T) {
	got := execTool(t, findTool(t, "value_trade_in"), map[string]any{
		"year":    time.Now().UTC().Year(),
		"mileage": 25000,
	})

	// Age zero: 38000 base minus 8 cents a mile, good condition.
	assert.Equal(t, 36000.0, got["estimated_value"])
	assert.Equal(t, "good", got["condition"])
	assert.Equal(t, 7.0, got["valid_days"])
}

func TestValueTradeIn_ExcellentMultiplier(t *testing.T) {
	got := execTool(t, findTool(t, "value_trade_in"), map[string]any{
		"year":      time.Now().UTC().Year(),
		"mileage":   0,
		"condition": "excellent",
	})

	assert.Equal(t, 41800.0, got["estimated_value"])
}

func TestValueTradeIn_FloorsAtScrapValue(t *testing.T) {
	got := execTool(t, findTool(t, "value_trade_in"), map[string]any{
		"year":      time.Now().UTC().Year() - 40,
		"mileage":   200000,
		"condition": "poor",
	})

	assert.Equal(t, 500.0, got["estimated_value"])
}

func TestValueTradeIn_ConditionOrdering(t *testing.T) {
	tool := findTool(t, "value_trade_in")
	year := time.Now().UTC().Year() - 3

	value := func(condition string) float64 {
		got := execTool(t, tool, map[string]any{
			"year": year, "mileage": 30000, "condition": condition,
		})
		return got["estimated_value"].(float64)
	}

	excellent, good, fair, poor := value("excellent"), value("good"), value("fair"), value("poor")
	assert.Greater(t, excellent, good)
	assert.Greater(t, good, fair)
	assert.Greater(t, fair, poor)
}

func TestScheduleTestDrive_DeterministicConfirmation(t *testing.T) {
	tool := findTool(t, "schedule_test_drive")
	params := map[string]any{
		"vin":           "1FTEW1EP5MKD10001",
		"customer_name": "Dana Whitfield",
	}

	first := execTool(t, tool, params)
	second := execTool(t, tool, params)

	assert.Equal(t, first["confirmation"], second["confirmation"])
	assert.Regexp(t, `^TD-[0-9A-F]{8}$`, first["confirmation"])
	assert.Equal(t, "BOOKED", first["status"])
	assert.Equal(t, "next-available", first["slot"])

	other := execTool(t, tool, map[string]any{
		"vin":           "1FTEW1EP5MKD10001",
		"customer_name": "Riley Okafor",
	})
	assert.NotEqual(t, first["confirmation"], other["confirmation"])
}

func TestScheduleTestDrive_ReportsProgress(t *testing.T) {
	tool := findTool(t, "schedule_test_drive")

	var updates []map[string]any
	out, err := tool.Execute(context.Background(), ToolInput{
		Params: map[string]any{
			"vin":            "1FTEW1EP5MKD10001",
			"customer_name":  "Dana Whitfield",
			"preferred_slot": "2026-09-01T10:00",
		},
		OnProgress: func(update map[string]any) {
			updates = append(updates, update)
		},
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	require.Len(t, updates, 2)
	assert.Equal(t, "checking_availability", updates[0]["stage"])
	assert.Equal(t, "holding_slot", updates[1]["stage"])
	assert.Equal(t, "2026-09-01T10:00", updates[1]["slot"])
}

func TestCancelTestDrive_ReleasesBookedSlot(t *testing.T) {
	booking := map[string]any{
		"vin":           "1FTEW1EP5MKD10001",
		"customer_name": "Dana Whitfield",
	}
	booked := execTool(t, findTool(t, "schedule_test_drive"), booking)

	cancelled := execTool(t, findTool(t, "cancel_test_drive"), map[string]any{
		"vin":           "1FTEW1EP5MKD10001",
		"customer_name": "Dana Whitfield",
		"reason":        "deal fell through",
	})

	// Same booking inputs, same confirmation code.
	assert.Equal(t, booked["confirmation"], cancelled["confirmation"])
	assert.Equal(t, "CANCELLED", cancelled["status"])
	assert.Equal(t, "deal fell through", cancelled["reason"])
}

func TestCancelTestDrive_DefaultReason(t *testing.T) {
	got := execTool(t, findTool(t, "cancel_test_drive"), map[string]any{
		"vin":           "1FTEW1EP5MKD10001",
		"customer_name": "Dana Whitfield",
	})

	assert.Equal(t, "unspecified", got["reason"])
}

func TestDealerPack_AllToolsDeclareParamSchemas(t *testing.T) {
	for _, tool := range DealerTools() {
		assert.NotEmpty(t, tool.Schema().ParamSchema, "tool %s", tool.Name())
		assert.NotEmpty(t, tool.Schema().Description, "tool %s", tool.Name())
	}
}
