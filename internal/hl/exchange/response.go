package exchange

import (
	"fmt"
	"strconv"
)

// OrderResult is the outcome of a single order inside an exchange response.
type OrderResult struct {
	OID      string
	Resting  bool
	Filled   bool
	FilledSz float64
	AvgPx    float64
	Err      string
}

// ParseOrderResult extracts the first order status from an exchange
// response. The endpoint reports per-order statuses under
// response.data.statuses; each entry is one of "resting", "filled", or an
// "error" string.
func ParseOrderResult(resp map[string]any) (OrderResult, error) {
	if status, _ := resp["status"].(string); status != "ok" {
		return OrderResult{}, fmt.Errorf("exchange status %q: %v", status, resp["response"])
	}
	inner, _ := resp["response"].(map[string]any)
	data, _ := inner["data"].(map[string]any)
	statuses, _ := data["statuses"].([]any)
	if len(statuses) == 0 {
		return OrderResult{}, fmt.Errorf("exchange response has no order statuses")
	}
	st, ok := statuses[0].(map[string]any)
	if !ok {
		return OrderResult{}, fmt.Errorf("unexpected order status shape")
	}
	var res OrderResult
	if msg, ok := st["error"].(string); ok {
		res.Err = msg
		return res, nil
	}
	if filled, ok := st["filled"].(map[string]any); ok {
		res.Filled = true
		res.OID = stringFromAny(filled["oid"])
		res.FilledSz = floatFromAny(filled["totalSz"])
		res.AvgPx = floatFromAny(filled["avgPx"])
		return res, nil
	}
	if resting, ok := st["resting"].(map[string]any); ok {
		res.Resting = true
		res.OID = stringFromAny(resting["oid"])
		return res, nil
	}
	return OrderResult{}, fmt.Errorf("unrecognized order status: %v", st)
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
