package genai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/soyeahso/casefinder/internal/domain"
)

// Apology is the deterministic reply used when the generator fails.
const Apology = "ご質問ありがとうございます。担当者が確認の上、詳しくご回答いたします。"

// introClosing ends every intro comment, generated or fallback.
const introClosing = "以下に、御社に近い事例をピックアップしましたので、ぜひご覧ください！"

// FallbackIntroduction builds the template intro from profile labels
// alone. It needs no network and always carries the closing marker.
func FallbackIntroduction(profile domain.Profile) string {
	cat := profile.CategoryLabel()
	ind := profile.IndustryLabel()

	var b strings.Builder
	fmt.Fprintf(&b, "%sで%sのご相談ですね！\n\n", ind, cat)
	fmt.Fprintf(&b, "HELPYOUでは、%sのお客様を多数サポートさせていただいております。", ind)
	fmt.Fprintf(&b, "%sについては、専門知識を持ったスタッフがチームで対応いたしますので、安心してお任せいただけます。\n\n", cat)
	if profile.FreeText != "" {
		fmt.Fprintf(&b, "「%s」というご相談内容についても、似たようなケースの実績がございます。\n\n", profile.FreeText)
	}
	b.WriteString(introClosing)
	return b.String()
}

// Keyword patterns for offline reply matching, checked in order.
var (
	pricingRe  = regexp.MustCompile(`料金|費用|価格|単価|コスト`)
	scheduleRe = regexp.MustCompile(`導入|開始|スケジュール|期間|いつから`)
	securityRe = regexp.MustCompile(`(?i)セキュリティ|情報|機密|NDA|権限`)
	teamRe     = regexp.MustCompile(`体制|担当|メンバー|チーム`)
)

// FallbackReply answers a user message without the generator, matching
// common question themes and otherwise prompting for specifics.
func FallbackReply(message string, profile domain.Profile) string {
	normalized := strings.TrimSpace(message)
	cat := profile.CategoryLabel()
	ind := profile.IndustryLabel()

	switch {
	case pricingRe.MatchString(normalized):
		return "料金は業務量や難易度によって変わります。現状の作業量を伺いながら、最適なプランと目安をご案内します。詳しくは営業担当からご説明いたしますので、お気軽にお問い合わせください。"
	case scheduleRe.MatchString(normalized):
		return "最短1〜2週間で立ち上げ可能です。業務の内容や規模に応じて、スムーズな導入スケジュールをご提案いたします。"
	case securityRe.MatchString(normalized):
		return "NDAの締結やアクセス権限の管理、作業ログの記録など、情報管理の体制を整えています。安心してお任せいただけます。"
	case teamRe.MatchString(normalized):
		return fmt.Sprintf("%sでの対応実績があるチームで進めます。%sに詳しい担当者をアサインしますので、ご安心ください。", ind, cat)
	}

	return fmt.Sprintf("%sの%sに合わせて柔軟に対応できます。もう少し具体的に「どの業務」「頻度」「目標」を教えていただけると、より詳しくご案内できます。", ind, cat)
}
