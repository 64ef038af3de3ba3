package serialmux

import (
	"strings"
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalise(t *testing.T) {
	tests := []struct {
		name string
		in   PortOptions
		want PortOptions
	}{
		{"zero value", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{"negative baud", PortOptions{BaudRate: -5}, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}},
		{"explicit", PortOptions{BaudRate: 1000000, DataBits: 7, StopBits: 2, Parity: "E"}, PortOptions{BaudRate: 1000000, DataBits: 7, StopBits: 2, Parity: "E"}},
		{"parity words", PortOptions{Parity: " odd "}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "O"}},
		{"parity lower", PortOptions{Parity: "even"}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E"}},
		{"parity none", PortOptions{Parity: "none"}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{"five data bits", PortOptions{DataBits: 5}, PortOptions{BaudRate: 115200, DataBits: 5, StopBits: 1, Parity: "N"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalise()
			if err != nil {
				t.Fatalf("Normalise() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalise() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPortOptions_NormaliseRejects(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		wantErr string
	}{
		{"odd baud", PortOptions{BaudRate: 12345}, "invalid baud rate 12345"},
		{"four data bits", PortOptions{DataBits: 4}, "invalid data bits 4"},
		{"nine data bits", PortOptions{DataBits: 9}, "invalid data bits 9"},
		{"three stop bits", PortOptions{StopBits: 3}, "invalid stop bits 3"},
		{"mark parity", PortOptions{Parity: "M"}, `unsupported parity "M"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.Normalise()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Normalise() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestPortOptions_StandardBaudRates(t *testing.T) {
	for _, rate := range standardBaudRates {
		if _, err := (PortOptions{BaudRate: rate}).Normalise(); err != nil {
			t.Errorf("baud %d rejected: %v", rate, err)
		}
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		in   PortOptions
		want serial.Mode
	}{
		{PortOptions{}, serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}},
		{PortOptions{Parity: "E"}, serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.EvenParity, StopBits: serial.OneStopBit}},
		{PortOptions{Parity: "O", StopBits: 2}, serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.OddParity, StopBits: serial.TwoStopBits}},
		{PortOptions{BaudRate: 921600, DataBits: 7}, serial.Mode{BaudRate: 921600, DataBits: 7, Parity: serial.NoParity, StopBits: serial.OneStopBit}},
	}
	for _, tt := range tests {
		mode, err := tt.in.SerialMode()
		if err != nil {
			t.Fatalf("SerialMode(%+v) error = %v", tt.in, err)
		}
		if mode.BaudRate != tt.want.BaudRate || mode.DataBits != tt.want.DataBits || mode.Parity != tt.want.Parity || mode.StopBits != tt.want.StopBits {
			t.Errorf("SerialMode(%+v) = %+v, want %+v", tt.in, *mode, tt.want)
		}
	}

	if _, err := (PortOptions{DataBits: 10}).SerialMode(); err == nil {
		t.Error("SerialMode accepted invalid options")
	}
}

func TestPortOptions_String(t *testing.T) {
	opts, err := PortOptions{}.Normalise()
	if err != nil {
		t.Fatal(err)
	}
	if got := opts.String(); got != "115200 8N1" {
		t.Errorf("String() = %q, want %q", got, "115200 8N1")
	}
	if got := (PortOptions{BaudRate: 9600, DataBits: 7, Parity: "E", StopBits: 2}).String(); got != "9600 7E2" {
		t.Errorf("String() = %q, want %q", got, "9600 7E2")
	}
}

func TestFakePort(t *testing.T) {
	port := NewFakePort()
	port.AddReadData([]byte("abc"))
	buf := make([]byte, 8)
	n, err := port.Read(buf)
	if err != nil || string(buf[:n]) != "abc" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if _, err := port.Write([]byte("cmd\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(port.Written()); got != "cmd\n" {
		t.Errorf("Written() = %q", got)
	}

	var got PortOptions
	opened, err := port.Opener(&got)("/dev/ttyACM0", PortOptions{BaudRate: 9600})
	if err != nil || opened != SerialPorter(port) || got.BaudRate != 9600 {
		t.Errorf("Opener returned %v, %v with %+v", opened, err, got)
	}

	port.Close()
	if _, err := port.Read(buf); err != ErrPortClosed {
		t.Errorf("Read after Close = %v, want ErrPortClosed", err)
	}
	if _, err := port.Write(nil); err != ErrPortClosed {
		t.Errorf("Write after Close = %v, want ErrPortClosed", err)
	}
}
