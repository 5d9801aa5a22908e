package strategy

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"trading-loop/internal/indicators"
)

// PredictMethod is the unary RPC the model server exposes. Request and response are
// google.protobuf.Struct messages.
const PredictMethod = "/predictor.Predictor/Predict"

// GRPCPredictor forwards feature windows to a remote model server.
type GRPCPredictor struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewGRPCPredictor connects lazily to addr without transport security.
func NewGRPCPredictor(addr string) (*GRPCPredictor, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial predictor %s: %w", addr, err)
	}
	return &GRPCPredictor{conn: conn, timeout: 2 * time.Second}, nil
}

func (g *GRPCPredictor) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

// Predict sends {instrument, window:[{epoch, close, rsi, ...}]} and expects
// {probability: number} back.
func (g *GRPCPredictor) Predict(ctx context.Context, instrument string, window []indicators.Snapshot) (Forecast, error) {
	rows := make([]any, 0, len(window))
	for _, s := range window {
		rows = append(rows, map[string]any{
			"epoch":         s.Epoch,
			"close":         s.Close,
			"sma_10":        s.SMA10,
			"sma_50":        s.SMA50,
			"rsi":           s.RSI,
			"macd":          s.MACD,
			"macd_signal":   s.MACDSignal,
			"bb_high":       s.BBHigh,
			"bb_low":        s.BBLow,
			"atr":           s.ATR,
			"ao":            s.AO,
			"adx":           s.ADX,
			"ichimoku_conv": s.IchimokuConv,
			"ichimoku_base": s.IchimokuBase,
			"engulfing":     s.Engulfing,
		})
	}
	req, err := structpb.NewStruct(map[string]any{"instrument": instrument, "window": rows})
	if err != nil {
		return Forecast{}, fmt.Errorf("encode predictor request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		return Forecast{}, fmt.Errorf("predict %s: %w", instrument, err)
	}
	v, ok := resp.GetFields()["probability"]
	if !ok {
		return Forecast{}, fmt.Errorf("predict %s: response missing probability", instrument)
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return Forecast{}, fmt.Errorf("predict %s: probability is not a number", instrument)
	}
	p := v.GetNumberValue()
	if p < 0 || p > 1 {
		return Forecast{}, fmt.Errorf("predict %s: probability %.3f out of range", instrument, p)
	}
	return forecastFrom(p), nil
}
