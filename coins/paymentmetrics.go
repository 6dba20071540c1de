package coins

// DO NOT EDIT!
// This code is generated with http://github.com/hexdigest/gowrap tool
// using opentelemetry.template template

//go:generate gowrap gen -p github.com/fraqlab/coinscot/coins -i Payer -t opentelemetry.template -o paymentmetrics.go

import (
	"context"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/api/metric"
	"go.opentelemetry.io/otel/label"
)

// PayerWithTelemetry implements Payer interface with all methods wrapped
// with open telemetry metrics
type PayerWithTelemetry struct {
	base                     Payer
	methodCounters           map[string]metric.BoundInt64Counter
	errCounters              map[string]metric.BoundInt64Counter
	methodTimeValueRecorders map[string]metric.BoundInt64ValueRecorder
}

// NewPayerWithTelemetry returns an instance of the Payer decorated with open telemetry timing and count metrics
func NewPayerWithTelemetry(base Payer, name string, meter metric.Meter) PayerWithTelemetry {
	return PayerWithTelemetry{
		base:                     base,
		methodCounters:           newPayerMethodCounters("Calls", name, meter),
		errCounters:              newPayerMethodCounters("Errors", name, meter),
		methodTimeValueRecorders: newPayerMethodTimeValueRecorders(name, meter),
	}
}

func newPayerMethodTimeValueRecorders(appName string, meter metric.Meter) (boundTimeValueRecorders map[string]metric.BoundInt64ValueRecorder) {
	boundTimeValueRecorders = make(map[string]metric.BoundInt64ValueRecorder)
	mt := metric.Must(meter)

	nPayValRecorder := []rune("Payer_Pay_ProcessingTimeMillis")
	nPayValRecorder[0] = unicode.ToLower(nPayValRecorder[0])
	mPay := mt.NewInt64ValueRecorder(string(nPayValRecorder))
	boundTimeValueRecorders["Pay"] = mPay.Bind(label.String("name", appName))

	return boundTimeValueRecorders
}

func newPayerMethodCounters(suffix string, appName string, meter metric.Meter) (boundCounters map[string]metric.BoundInt64Counter) {
	boundCounters = make(map[string]metric.BoundInt64Counter)
	mt := metric.Must(meter)

	nPayCounter := []rune("Payer_Pay_" + suffix)
	nPayCounter[0] = unicode.ToLower(nPayCounter[0])
	cPay := mt.NewInt64Counter(string(nPayCounter))
	boundCounters["Pay"] = cPay.Bind(label.String("name", appName))

	return boundCounters
}

// Pay implements Payer
func (_d PayerWithTelemetry) Pay(payer string, payee string, amount int64, memo string) (err error) {
	_since := time.Now()
	defer func() {
		if err != nil {
			errCounter := _d.errCounters["Pay"]
			errCounter.Add(context.Background(), 1)
		}

		methodCounter := _d.methodCounters["Pay"]
		methodCounter.Add(context.Background(), 1)

		methodTimeMeasure := _d.methodTimeValueRecorders["Pay"]
		methodTimeMeasure.Record(context.Background(), time.Since(_since).Milliseconds())
	}()
	return _d.base.Pay(payer, payee, amount, memo)
}
