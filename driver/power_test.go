package driver

import (
	"context"
	"strings"
	"testing"

	"github.com/Soochol/WF-EOL-TESTER-sub007/hwerr"
)

// scpiFake answers SCPI queries like the ODA firmware would.
func scpiFake(answers map[string]string) *fakeTransport {
	ft := connectedFake()
	ft.onWrite = func(f *fakeTransport, p []byte) {
		cmd := strings.TrimSpace(string(p))
		if ans, ok := answers[cmd]; ok {
			f.feed([]byte(ans + "\n"))
		}
	}
	return ft
}

func TestPowerConnectProbesIdentity(t *testing.T) {
	ft := scpiFake(map[string]string{"*IDN?": "ODA Technologies,EX-200,SN1234,1.3"})
	p := NewPower(PowerConfig{Name: "power"}, ft, nil)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !strings.Contains(p.Identity(), "EX-200") {
		t.Fatalf("identity = %q", p.Identity())
	}
}

func TestPowerConnectFailsWithoutIdentity(t *testing.T) {
	ft := scpiFake(nil) // silent device
	p := NewPower(PowerConfig{Name: "power"}, ft, nil)

	err := p.Connect(context.Background())
	if !hwerr.Is(err, hwerr.Connection) {
		t.Fatalf("error kind = %v, want Connection: %v", hwerr.KindOf(err), err)
	}
	if p.IsConnected() {
		t.Fatal("link left open after failed identity probe")
	}
}

func TestPowerSetVoltageWireFormat(t *testing.T) {
	ft := connectedFake()
	p := NewPower(PowerConfig{}, ft, nil)

	if err := p.SetVoltage(context.Background(), 38.0); err != nil {
		t.Fatal(err)
	}
	if got := string(ft.lastWrite()); got != "VOLT 38.00\n" {
		t.Fatalf("wire = %q", got)
	}
	if err := p.SetCurrent(context.Background(), 25.5); err != nil {
		t.Fatal(err)
	}
	if got := string(ft.lastWrite()); got != "CURR 25.50\n" {
		t.Fatalf("wire = %q", got)
	}
}

func TestPowerOutputSwitching(t *testing.T) {
	ft := connectedFake()
	p := NewPower(PowerConfig{}, ft, nil)

	if err := p.EnableOutput(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := string(ft.lastWrite()); got != "OUTP ON\n" {
		t.Fatalf("wire = %q", got)
	}
	if err := p.DisableOutput(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := string(ft.lastWrite()); got != "OUTP OFF\n" {
		t.Fatalf("wire = %q", got)
	}
}

func TestPowerMeasureAll(t *testing.T) {
	ft := scpiFake(map[string]string{"MEAS:ALL?": "38.02,12.50"})
	p := NewPower(PowerConfig{}, ft, nil)

	v, c, err := p.Measure(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 38.02 || c != 12.5 {
		t.Fatalf("measure = %v, %v", v, c)
	}
}

func TestPowerMeasureFallsBackToSplitQueries(t *testing.T) {
	ft := scpiFake(map[string]string{
		"MEAS:ALL?":  "ERR -100", // firmware without the combined query
		"MEAS:VOLT?": "37.99",
		"MEAS:CURR?": "12.40",
	})
	p := NewPower(PowerConfig{}, ft, nil)

	v, c, err := p.Measure(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 37.99 || c != 12.40 {
		t.Fatalf("measure = %v, %v", v, c)
	}
}

func TestPowerRejectsNegativeSetpoints(t *testing.T) {
	p := NewPower(PowerConfig{}, connectedFake(), nil)
	if err := p.SetVoltage(context.Background(), -1); !hwerr.Is(err, hwerr.Operation) {
		t.Fatalf("want Operation error, got %v", err)
	}
	if err := p.SetCurrent(context.Background(), -1); !hwerr.Is(err, hwerr.Operation) {
		t.Fatalf("want Operation error, got %v", err)
	}
}
