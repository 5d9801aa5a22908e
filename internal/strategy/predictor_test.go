package strategy

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"trading-loop/internal/indicators"
)

func TestForecastThresholds(t *testing.T) {
	assert.Equal(t, OutlookUp, forecastFrom(0.61).Outlook)
	assert.Equal(t, OutlookHold, forecastFrom(0.6).Outlook)
	assert.Equal(t, OutlookHold, forecastFrom(0.4).Outlook)
	down := forecastFrom(0.25)
	assert.Equal(t, OutlookDown, down.Outlook)
	assert.InDelta(t, 0.75, down.Confidence, 1e-9)
}

func TestMomentumPredictor(t *testing.T) {
	rising := make([]indicators.Snapshot, 10)
	for i := range rising {
		rising[i] = indicators.Snapshot{Close: 100 + float64(i)*2, RSI: 70, MACD: 1, MACDSignal: 0.5}
	}
	fc, err := MomentumPredictor{}.Predict(context.Background(), "X", rising)
	require.NoError(t, err)
	assert.Equal(t, OutlookUp, fc.Outlook)

	falling := make([]indicators.Snapshot, 10)
	for i := range falling {
		falling[i] = indicators.Snapshot{Close: 100 - float64(i)*2, RSI: 25, MACD: -1, MACDSignal: 0}
	}
	fc, err = MomentumPredictor{}.Predict(context.Background(), "X", falling)
	require.NoError(t, err)
	assert.Equal(t, OutlookDown, fc.Outlook)

	fc, err = MomentumPredictor{}.Predict(context.Background(), "X", nil)
	require.NoError(t, err)
	assert.Equal(t, OutlookHold, fc.Outlook)
}

func TestFallbackPredictor(t *testing.T) {
	p := FallbackPredictor{
		Primary:   fixedPredictor{err: errors.New("unavailable")},
		Secondary: fixedPredictor{fc: Forecast{Outlook: OutlookUp, Confidence: 0.7}},
	}
	fc, err := p.Predict(context.Background(), "X", nil)
	require.NoError(t, err)
	assert.Equal(t, OutlookUp, fc.Outlook)
}

// startModelServer serves PredictMethod, answering with the probability mapped to the
// requested instrument.
func startModelServer(t *testing.T, probabilities map[string]any) (addr string, windowLen *atomic.Int64) {
	t.Helper()
	windowLen = &atomic.Int64{}
	desc := grpc.ServiceDesc{
		ServiceName: "predictor.Predictor",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Predict",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := &structpb.Struct{}
				if err := dec(req); err != nil {
					return nil, err
				}
				windowLen.Store(int64(len(req.GetFields()["window"].GetListValue().GetValues())))
				inst := req.GetFields()["instrument"].GetStringValue()
				return structpb.NewStruct(map[string]any{"probability": probabilities[inst]})
			},
		}},
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	srv.RegisterService(&desc, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String(), windowLen
}

func TestGRPCPredictor(t *testing.T) {
	addr, windowLen := startModelServer(t, map[string]any{
		"R_UP":   0.82,
		"R_DOWN": 0.1,
		"R_BAD":  1.5,
		"R_STR":  "high",
	})
	p, err := NewGRPCPredictor(addr)
	require.NoError(t, err)
	defer p.Close()

	window := make([]indicators.Snapshot, 60)
	ctx := context.Background()

	fc, err := p.Predict(ctx, "R_UP", window)
	require.NoError(t, err)
	assert.Equal(t, OutlookUp, fc.Outlook)
	assert.InDelta(t, 0.82, fc.Probability, 1e-9)
	assert.Equal(t, int64(60), windowLen.Load())

	fc, err = p.Predict(ctx, "R_DOWN", window)
	require.NoError(t, err)
	assert.Equal(t, OutlookDown, fc.Outlook)
	assert.InDelta(t, 0.9, fc.Confidence, 1e-9)

	_, err = p.Predict(ctx, "R_BAD", window)
	assert.ErrorContains(t, err, "out of range")

	_, err = p.Predict(ctx, "R_STR", window)
	assert.ErrorContains(t, err, "not a number")
}
