package social

import "testing"

func TestSanitize_RemovesScriptTags(t *testing.T) {
	s := NewSanitizer()

	got := s.Sanitize(`<p>こんにちは</p><script>alert("xss")</script>`)
	if got != "<p>こんにちは</p>" {
		t.Errorf("scriptタグは除去されるべき, got %q", got)
	}
}

func TestSanitize_RemovesEventAttributes(t *testing.T) {
	s := NewSanitizer()

	got := s.Sanitize(`<p onclick="steal()">テキスト</p>`)
	if got != "<p>テキスト</p>" {
		t.Errorf("on*イベント属性は除去されるべき, got %q", got)
	}
}

func TestSanitize_KeepsAllowedFormattingTags(t *testing.T) {
	s := NewSanitizer()

	input := "<p><strong>重要</strong>な<em>お知らせ</em></p>"
	if got := s.Sanitize(input); got != input {
		t.Errorf("許可タグは保持されるべき, got %q", got)
	}
}

func TestSanitize_RemovesIframe(t *testing.T) {
	s := NewSanitizer()

	got := s.Sanitize(`before<iframe src="https://evil.example.com"></iframe>after`)
	if got != "beforeafter" {
		t.Errorf("iframeタグは除去されるべき, got %q", got)
	}
}

func TestSanitize_EmptyInput(t *testing.T) {
	s := NewSanitizer()

	if got := s.Sanitize(""); got != "" {
		t.Errorf("空入力には空文字列を返すべき, got %q", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := NewSanitizer()

	input := `<p>テキスト<script>x()</script></p>`
	once := s.Sanitize(input)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("サニタイズは冪等であるべき: %q != %q", once, twice)
	}
}
