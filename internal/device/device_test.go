package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
)

// writeSysfs creates a fake sysfs attribute file.
func writeSysfs(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DeviceConfig
		wantErr error
	}{
		{"missing id", config.DeviceConfig{Type: TypeGPIO, Path: "/x"}, ErrInvalidDevice},
		{"unknown type", config.DeviceConfig{ID: "d", Type: "modbus"}, ErrUnknownType},
		{"sensor without path", config.DeviceConfig{ID: "d", Type: TypeSysfsSensor}, ErrInvalidDevice},
		{"gpio without path", config.DeviceConfig{ID: "d", Type: TypeGPIO}, ErrInvalidDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTypes(t *testing.T) {
	types := Types()
	if !slices.Contains(types, TypeSysfsSensor) || !slices.Contains(types, TypeGPIO) {
		t.Errorf("Types() = %v, want built-in drivers", types)
	}
}

func TestSysfsSensor_Read(t *testing.T) {
	tests := []struct {
		name    string
		content string
		scale   float64
		offset  float64
		want    float64
		wantErr bool
	}{
		{name: "thermal zone millidegrees", content: "23500\n", scale: 0.001, want: 23.5},
		{name: "adc raw with offset", content: "1024", scale: 0.5, offset: -12, want: 500},
		{name: "default scale", content: "  7.25 extra", want: 7.25},
		{name: "empty file", content: "", wantErr: true},
		{name: "garbage", content: "n/a", wantErr: true},
		{name: "nan", content: "nan\n", wantErr: true},
		{name: "infinity", content: "-Inf", wantErr: true},
		{name: "overflow after scaling", content: "1e308", scale: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSysfs(t, "in_voltage0_raw", tt.content)
			d, err := New(config.DeviceConfig{
				ID: "tank", Type: TypeSysfsSensor, Path: path,
				Metric: "level", Scale: tt.scale, Offset: tt.offset,
			})
			if err != nil {
				t.Fatal(err)
			}

			got, err := d.Read(context.Background())
			if tt.wantErr {
				if !errors.Is(err, ErrReadFailed) {
					t.Errorf("Read() error = %v, want ErrReadFailed", err)
				}
				if s := d.Status(context.Background()); s.Online || s.LastError == "" {
					t.Errorf("Status() = %+v, want offline with error", s)
				}
				return
			}
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got["level"] != tt.want {
				t.Errorf("level = %v, want %v", got["level"], tt.want)
			}
			if s := d.Status(context.Background()); !s.Online || s.LastRead == nil {
				t.Errorf("Status() = %+v, want online", s)
			}
		})
	}
}

func TestSysfsSensor_ReadOnlyAndConfigure(t *testing.T) {
	path := writeSysfs(t, "temp", "10")
	d, _ := New(config.DeviceConfig{ID: "t1", Type: TypeSysfsSensor, Path: path})

	if err := d.Write(context.Background(), map[string]any{"value": 1}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write() error = %v, want ErrReadOnly", err)
	}

	if err := d.Configure(map[string]any{"scale": 2.0, "offset": "1", "metric": "temp_c"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	got, _ := d.Read(context.Background())
	if got["temp_c"] != 21.0 {
		t.Errorf("Read() after Configure = %v, want temp_c 21", got)
	}

	// A rejected setting leaves the others untouched.
	if err := d.Configure(map[string]any{"scale": 0.0, "offset": 5.0}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Configure(scale=0) error = %v, want ErrInvalidValue", err)
	}
	if err := d.Configure(map[string]any{"gain": 3}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Configure(unknown) error = %v, want ErrInvalidValue", err)
	}
	got, _ = d.Read(context.Background())
	if got["temp_c"] != 21.0 {
		t.Errorf("Read() after rejected Configure = %v, want unchanged", got)
	}
}

func TestGPIO_ReadWrite(t *testing.T) {
	tests := []struct {
		name      string
		activeLow bool
		write     any
		wantFile  string
	}{
		{name: "active high on", write: true, wantFile: "1"},
		{name: "active high off", write: "off", wantFile: "0"},
		{name: "active low on", activeLow: true, write: 1.0, wantFile: "0"},
		{name: "active low off", activeLow: true, write: false, wantFile: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSysfs(t, "value", "0\n")
			d, err := New(config.DeviceConfig{ID: "pump", Type: TypeGPIO, Path: path, ActiveLow: tt.activeLow})
			if err != nil {
				t.Fatal(err)
			}

			if err := d.Write(context.Background(), map[string]any{"state": tt.write}); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if got := readFile(t, path); got != tt.wantFile {
				t.Errorf("value file = %q, want %q", got, tt.wantFile)
			}

			want, _ := toBool(tt.write)
			got, err := d.Read(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got["state"] != want {
				t.Errorf("Read() state = %v, want %v", got["state"], want)
			}
		})
	}
}

func TestGPIO_Errors(t *testing.T) {
	path := writeSysfs(t, "value", "x")
	d, _ := New(config.DeviceConfig{ID: "valve", Type: TypeGPIO, Path: path})

	if _, err := d.Read(context.Background()); !errors.Is(err, ErrReadFailed) {
		t.Errorf("Read() error = %v, want ErrReadFailed", err)
	}
	if err := d.Write(context.Background(), map[string]any{"other": true}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Write(missing metric) error = %v, want ErrInvalidValue", err)
	}
	if err := d.Write(context.Background(), map[string]any{"state": 7.0}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Write(7) error = %v, want ErrInvalidValue", err)
	}

	missing, _ := New(config.DeviceConfig{ID: "gone", Type: TypeGPIO, Path: filepath.Join(t.TempDir(), "nope")})
	if err := missing.Write(context.Background(), map[string]any{"state": true}); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Write(missing file) error = %v, want ErrWriteFailed", err)
	}
}

func TestGPIO_ConfigureActiveLow(t *testing.T) {
	path := writeSysfs(t, "value", "1")
	d, _ := New(config.DeviceConfig{ID: "pump", Type: TypeGPIO, Path: path})

	if err := d.Configure(map[string]any{"active_low": true}); err != nil {
		t.Fatal(err)
	}
	got, _ := d.Read(context.Background())
	if got["state"] != false {
		t.Errorf("state = %v, want false with active_low", got["state"])
	}
	if s := d.Status(context.Background()); s.Settings["active_low"] != true {
		t.Errorf("Status().Settings = %v", s.Settings)
	}
	if err := d.Configure(map[string]any{"direction": "out"}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Configure(direction) error = %v, want ErrInvalidValue", err)
	}
}

func TestToBool(t *testing.T) {
	for _, v := range []any{true, 1.0, 1, "on", "OPEN", " true "} {
		if b, err := toBool(v); err != nil || !b {
			t.Errorf("toBool(%#v) = %v, %v, want true", v, b, err)
		}
	}
	for _, v := range []any{"maybe", 2.0, nil, []int{1}} {
		if _, err := toBool(v); err == nil || !strings.Contains(err.Error(), "switch state") {
			t.Errorf("toBool(%#v) error = %v, want rejection", v, err)
		}
	}
}
