package model

// OrderRecord はユーザーメタデータのhistoryに追記される注文1件を表す。
// 追記後に変更・削除されることはない。
type OrderRecord struct {
	OrderDate string `json:"order_date"`
	OrderItem string `json:"order_item"`
}

// PublicAuthConfig はSPAに配布する公開設定。シークレットは含めない。
type PublicAuthConfig struct {
	Domain   string `json:"domain"`
	ClientID string `json:"clientId"`
	Audience string `json:"audience"`
}
