package handler

import (
	"net/http"

	"github.com/hitoshi/pizza42/internal/model"
)

// ConfigHandler はSPA向けの公開設定（domain、clientId、audience）を返す。
// シークレットは構造上含まれない。
type ConfigHandler struct {
	public model.PublicAuthConfig
}

// NewConfigHandler はConfigHandlerを生成する。
func NewConfigHandler(public model.PublicAuthConfig) *ConfigHandler {
	return &ConfigHandler{public: public}
}

// ServeHTTP は公開設定をJSONで返す。
// GET /auth_config.json, GET /config
func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, h.public)
}

// Health はプロセスの生存確認に応答する。
// GET /healthz
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
