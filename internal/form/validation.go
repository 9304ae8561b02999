// Package form は多段階フォームワークフローを提供する。
// フィールド単位の入力検証、送信状態遷移、多重送信防止を含む。
package form

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// TitleMinLength / TitleMaxLength はタイトルの文字数制限。
	TitleMinLength = 5
	TitleMaxLength = 100
	// DescriptionMinLength / DescriptionMaxLength は説明文の文字数制限。
	DescriptionMinLength = 20
	DescriptionMaxLength = 1000
)

// phonePattern はモバイルマネー（STKプッシュ）対応の電話番号形式。
// 国番号254 + 7で始まる8桁。
var phonePattern = regexp.MustCompile(`^2547\d{8}$`)

// Bag はフィールドごとの検証結果を集約する。
// 空メッセージは合格を意味する。
type Bag struct {
	fields []string
	errors map[string]string
}

// NewBag は空のBagを生成する。
func NewBag() *Bag {
	return &Bag{errors: make(map[string]string)}
}

// Check はフィールドの検証結果を記録する。msgが空の場合は合格。
func (b *Bag) Check(field, msg string) {
	if msg == "" {
		return
	}
	if _, ok := b.errors[field]; !ok {
		b.fields = append(b.fields, field)
	}
	b.errors[field] = msg
}

// Valid は全フィールドが合格しているかを返す。
func (b *Bag) Valid() bool {
	return len(b.errors) == 0
}

// Messages はフィールドごとの違反メッセージを返す。
func (b *Bag) Messages() map[string]string {
	return b.errors
}

// Err は検証結果をエラーとして返す。合格の場合はnil。
func (b *Bag) Err() error {
	if b.Valid() {
		return nil
	}
	return &ValidationError{fields: b.fields, messages: b.errors}
}

// ValidationError はフォーム全体の検証違反を表す。
// ルールごとの個別メッセージを保持する。
type ValidationError struct {
	fields   []string
	messages map[string]string
}

// Error はerrorインターフェースを実装する。最初の違反を代表として表示する。
func (e *ValidationError) Error() string {
	if len(e.fields) == 0 {
		return "入力値の検証に失敗しました"
	}
	first := e.fields[0]
	return fmt.Sprintf("入力値の検証に失敗しました（%s: %s ほか%d件）",
		first, e.messages[first], len(e.fields)-1)
}

// Messages はフィールドごとの違反メッセージを返す。
func (e *ValidationError) Messages() map[string]string {
	return e.messages
}

// ValidateRequired は必須フィールドを検証する。
func ValidateRequired(value string) string {
	if strings.TrimSpace(value) == "" {
		return "必須項目です"
	}
	return ""
}

// ValidateTitle はタイトルの文字数（5〜100文字）を検証する。
func ValidateTitle(title string) string {
	n := utf8.RuneCountInString(strings.TrimSpace(title))
	if n < TitleMinLength {
		return fmt.Sprintf("タイトルは%d文字以上で入力してください", TitleMinLength)
	}
	if n > TitleMaxLength {
		return fmt.Sprintf("タイトルは%d文字以内で入力してください", TitleMaxLength)
	}
	return ""
}

// ValidateDescription は説明文の文字数（20〜1000文字）を検証する。
func ValidateDescription(description string) string {
	n := utf8.RuneCountInString(strings.TrimSpace(description))
	if n < DescriptionMinLength {
		return fmt.Sprintf("説明は%d文字以上で入力してください", DescriptionMinLength)
	}
	if n > DescriptionMaxLength {
		return fmt.Sprintf("説明は%d文字以内で入力してください", DescriptionMaxLength)
	}
	return ""
}

// ValidatePasswordConfirmation はパスワードと確認入力の一致を検証する。
func ValidatePasswordConfirmation(password, confirmation string) string {
	if password == "" {
		return "パスワードは必須です"
	}
	if password != confirmation {
		return "パスワードと確認入力が一致しません"
	}
	return ""
}

// ValidateAmount は金額が正であり上下限の範囲内であることを検証する。
func ValidateAmount(amount, min, max int64) string {
	if amount <= 0 {
		return "金額は正の値で入力してください"
	}
	if amount < min {
		return fmt.Sprintf("金額は%d以上で入力してください", min)
	}
	if max > 0 && amount > max {
		return fmt.Sprintf("金額は%d以内で入力してください", max)
	}
	return ""
}

// ValidatePhone はモバイルマネー対応の電話番号形式（2547XXXXXXXX）を検証する。
func ValidatePhone(phone string) string {
	if !phonePattern.MatchString(strings.TrimSpace(phone)) {
		return "電話番号は2547XXXXXXXXの形式で入力してください"
	}
	return ""
}
