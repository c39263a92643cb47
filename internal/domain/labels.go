package domain

// Display labels for the intake form's fixed choices. The assistant
// speaks Japanese, so labels are kept in Japanese throughout.

const (
	categoryFallbackLabel = "バックオフィス業務"
	industryFallbackLabel = "御社の業界"
)

var categoryLabels = map[string]string{
	"accounting":       "経理・会計業務",
	"hr":               "人事・労務関連の業務",
	"sales-admin":      "営業事務",
	"customer-support": "カスタマーサポート業務",
	"it":               "IT・情シス関連の業務",
	"marketing":        "マーケティング支援",
	"other":            "バックオフィス業務",
}

var industryLabels = map[string]string{
	"it-web":        "IT・Web業界",
	"ec-retail":     "EC・小売業界",
	"manufacturing": "製造業",
	"service":       "サービス業",
	"real-estate":   "不動産業界",
	"healthcare":    "医療・介護業界",
	"education":     "教育業界",
	"other":         "御社の業界",
}

// JobCategories lists the selectable job category values in form order.
func JobCategories() []string {
	return []string{"accounting", "hr", "sales-admin", "customer-support", "it", "marketing", "other"}
}

// Industries lists the selectable industry values in form order.
func Industries() []string {
	return []string{"it-web", "ec-retail", "manufacturing", "service", "real-estate", "healthcare", "education", "other"}
}
