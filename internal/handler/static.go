package handler

import (
	"net/http"
	"path"
	"path/filepath"
)

// indexFile はSPAのエントリードキュメント。
const indexFile = "index.html"

// NewSPAHandler は静的ファイルを配信し、存在しないパスにはindex.htmlを返すハンドラーを生成する。
// クライアントサイドルーティングのため、未知のパスもSPAに委ねる。
func NewSPAHandler(dir string) http.Handler {
	root := http.Dir(dir)
	files := http.FileServer(root)
	index := filepath.Join(dir, indexFile)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)

		if f, err := root.Open(name); err == nil {
			info, statErr := f.Stat()
			f.Close()
			if statErr == nil && !info.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
		}

		http.ServeFile(w, r, index)
	})
}
