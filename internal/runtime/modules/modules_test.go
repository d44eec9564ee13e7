package modules

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/incrustwerush/rwaf/internal/normalize"
	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func headerB64(t *testing.T, h map[string]string) string {
	t.Helper()
	raw, err := json.Marshal(h)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func defaultSettings() pipeline.Settings {
	return pipeline.Settings{
		WindowSeconds:          10,
		WindowMaxRequests:      5,
		AntiHTTPGenericBF:      true,
		EnableRequestBodyCheck: true,
	}
}

type descriptor struct {
	ip, method, userAgent, header, path, body string
	statusCode                                int
}

func input(d descriptor) pipeline.Input {
	return pipeline.Input{
		Req:      normalize.NewRequest(d.ip, d.method, d.userAgent, d.header, d.path, d.body, d.statusCode),
		Slot:     pipeline.NewSlot(),
		Settings: defaultSettings(),
	}
}
