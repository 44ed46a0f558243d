package kraken

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderRequest is a market order for one pair. Volume is in base units and
// gets truncated to the pair's volume precision before submission, so a
// sized leg can never round up past the budget.
type OrderRequest struct {
	Pair            string
	Side            Side
	Volume          float64
	VolumePrecision int32
}

// Fill is the terminal state of an order.
type Fill struct {
	TxID     string
	VolExec  float64
	AvgPrice float64
	CostUSD  float64
	FeeUSD   float64
}

var (
	ErrOrderCanceled = errors.New("order canceled by venue")
	ErrFillTimeout   = errors.New("order not filled before deadline")
)

// AddOrder submits a market order and returns the venue transaction ID.
func (c *Client) AddOrder(ctx context.Context, req OrderRequest) (string, error) {
	vol := FormatVolume(req.Volume, req.VolumePrecision)
	params := url.Values{
		"pair":      {req.Pair},
		"type":      {string(req.Side)},
		"ordertype": {"market"},
		"volume":    {vol},
	}
	res, err := c.private(ctx, "/0/private/AddOrder", params)
	if err != nil {
		return "", err
	}
	txids, _ := res["txid"].([]any)
	if len(txids) == 0 {
		return "", fmt.Errorf("addOrder %s: no txid in response", req.Pair)
	}
	txid, _ := txids[0].(string)
	if txid == "" {
		return "", fmt.Errorf("addOrder %s: empty txid", req.Pair)
	}
	c.log.Info("spot order submitted",
		zap.String("pair", req.Pair),
		zap.String("side", string(req.Side)),
		zap.String("volume", vol),
		zap.String("txid", txid))
	return txid, nil
}

// QueryOrder returns the current status of one order: "pending", "open",
// "closed", "canceled", or "expired", plus executed volume and average
// price.
func (c *Client) QueryOrder(ctx context.Context, txid string) (status string, fill Fill, err error) {
	res, err := c.private(ctx, "/0/private/QueryOrders", url.Values{"txid": {txid}})
	if err != nil {
		return "", Fill{}, err
	}
	row, ok := res[txid].(map[string]any)
	if !ok {
		return "", Fill{}, fmt.Errorf("queryOrders: txid %s not in response", txid)
	}
	status, _ = row["status"].(string)
	fill = Fill{
		TxID:     txid,
		VolExec:  parseFloatField(row["vol_exec"]),
		AvgPrice: parseFloatField(row["price"]),
		CostUSD:  parseFloatField(row["cost"]),
		FeeUSD:   parseFloatField(row["fee"]),
	}
	return status, fill, nil
}

func (c *Client) CancelOrder(ctx context.Context, txid string) error {
	_, err := c.private(ctx, "/0/private/CancelOrder", url.Values{"txid": {txid}})
	return err
}

// WaitForFill polls an order until it reaches a terminal state. A closed
// order returns its fill; canceled or expired returns ErrOrderCanceled; a
// status outside the known set fails immediately rather than burning the
// whole timeout. On
// timeout the order is checked one final time before being canceled, so a
// fill that lands during the last poll interval is not thrown away.
func (c *Client) WaitForFill(ctx context.Context, txid string, pollEvery, timeout time.Duration) (Fill, error) {
	deadline := time.Now().Add(timeout)
	for {
		status, fill, err := c.QueryOrder(ctx, txid)
		if err != nil {
			c.log.Warn("order status query failed", zap.String("txid", txid), zap.Error(err))
		} else {
			switch status {
			case "closed":
				return fill, nil
			case "canceled", "expired":
				return fill, fmt.Errorf("%w: %s", ErrOrderCanceled, status)
			case "open", "pending":
			default:
				return fill, fmt.Errorf("kraken: order %s in unexpected status %q", txid, status)
			}
		}
		if time.Now().After(deadline) {
			break
		}
		if err := sleepCtx(ctx, pollEvery); err != nil {
			return Fill{}, err
		}
	}

	status, fill, err := c.QueryOrder(ctx, txid)
	if err == nil && status == "closed" {
		return fill, nil
	}
	if cancelErr := c.CancelOrder(ctx, txid); cancelErr != nil {
		c.log.Warn("cancel after fill timeout failed", zap.String("txid", txid), zap.Error(cancelErr))
	}
	return fill, fmt.Errorf("%w: txid %s", ErrFillTimeout, txid)
}

// FormatVolume truncates toward zero at the pair's precision.
func FormatVolume(v float64, precision int32) string {
	return decimal.NewFromFloat(v).Truncate(precision).String()
}

// FormatPrice rounds half up at the pair's precision.
func FormatPrice(v float64, precision int32) string {
	return decimal.NewFromFloat(v).Round(precision).String()
}

func parseFloatField(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
