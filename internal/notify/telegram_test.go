package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) *Telegram {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tg := NewTelegram("test-token", "12345")
	tg.baseURL = srv.URL
	return tg
}

func TestAnnounceTransmission(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	})

	if err := tg.AnnounceTransmission(context.Background(), 7, "THE SIGNAL HOLDS"); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["chat_id"] != "12345" {
		t.Errorf("chat_id = %s", gotBody["chat_id"])
	}
	want := "TRANSMISSION - CYCLE 7\n\nTHE SIGNAL HOLDS\n\n#KAIRO #CYCLE7"
	if gotBody["text"] != want {
		t.Errorf("text = %q, want %q", gotBody["text"], want)
	}
}

func TestAnnounceWinner(t *testing.T) {
	cases := []struct {
		option string
		want   string
	}{
		{"ALIGN", "Alignment proves fruitful"},
		{"REJECT", "Rejection bears reward"},
		{"WITHHOLD", "Withholding from action becomes action in itself"},
	}
	for _, tc := range cases {
		t.Run(tc.option, func(t *testing.T) {
			var gotText string
			tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				gotText = body["text"]
				w.Write([]byte(`{"ok":true}`))
			})
			if err := tg.AnnounceWinner(context.Background(), 3, tc.option); err != nil {
				t.Fatalf("announce: %v", err)
			}
			if !strings.HasPrefix(gotText, tc.want) {
				t.Errorf("text = %q, want prefix %q", gotText, tc.want)
			}
			if !strings.HasSuffix(gotText, "#KAIRO #CYCLE3") {
				t.Errorf("text = %q, missing hashtag suffix", gotText)
			}
		})
	}
}

func TestAnnounceWinnerUnknownOption(t *testing.T) {
	tg := NewTelegram("tok", "chat")
	if err := tg.AnnounceWinner(context.Background(), 1, "MAYBE"); err == nil {
		t.Fatal("expected error for unknown option")
	}
}

func TestSendMessageServerError(t *testing.T) {
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	})
	err := tg.AnnounceTransmission(context.Background(), 1, "X")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v, want status 400 surfaced", err)
	}
}
