package recognition

import "testing"

func TestFilterClean(t *testing.T) {
	f := DefaultFilter()
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain question", "  Как расторгнуть договор?  ", "Как расторгнуть договор?", true},
		{"empty", "", "", false},
		{"single rune", "а", "", false},
		{"only short words", "да ну", "", false},
		{"filler", "эээ", "", false},
		{"filler with punctuation", "Ммм...", "", false},
		{"stock phrase", "Спасибо за внимание!", "", false},
		{"subtitles credit", "Редактор субтитров А.Синецкая", "", false},
		{"phrase inside word survives", "наконец нашла юриста", "наконец нашла юриста", true},
		{"too many sentences", "Раз. Два. Три. Четыре.", "", false},
		{"punctuation only", "?!...", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := f.Clean(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Clean(%q) = %q, %t; want %q, %t", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}

	t.Run("max length", func(t *testing.T) {
		long := ""
		for i := 0; i < 40; i++ {
			long += "слово "
		}
		if _, ok := f.Clean(long); ok {
			t.Error("overlong text accepted")
		}
	})
}

func TestErrorCodeClassification(t *testing.T) {
	for _, c := range []ErrorCode{ErrorNetwork, ErrorAudioCapture, ErrorNotAllowed} {
		if !c.IsTransient() {
			t.Errorf("%s should be transient", c)
		}
	}
	for _, c := range []ErrorCode{ErrorNoSpeech, ErrorAborted} {
		if !c.IsIgnorable() || c.IsTransient() {
			t.Errorf("%s should be ignorable only", c)
		}
	}
	if ErrorServiceNotAllowed.IsTransient() || ErrorServiceNotAllowed.IsIgnorable() {
		t.Error("service-not-allowed should be fatal")
	}
}
