// Package contenttype maps file names to the Content-Type the server sends.
//
// Lookup is by suffix: the first registered type whose extension ends the
// given string wins, so "index.html", "/css/site.css" and ".js" all resolve.
package contenttype

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotSupportedExtension は対応していない拡張子を表す
var ErrNotSupportedExtension = errors.New("content type not supported for extension")

// Type は MIME タイプと拡張子の組
type Type struct {
	MIMEType  string
	Extension string
}

func (t Type) String() string {
	return t.MIMEType
}

// 既定の対応表。順序が検索順になる
var (
	HTML       = Type{MIMEType: "text/html;charset=utf-8", Extension: ".html"}
	CSS        = Type{MIMEType: "text/css;charset=utf-8", Extension: ".css"}
	JavaScript = Type{MIMEType: "application/javascript", Extension: ".js"}
	ICO        = Type{MIMEType: "image/x-icon", Extension: ".ico"}
)

// Resolver は拡張子から Type を引く
type Resolver struct {
	types []Type
}

// NewResolver は指定した順序で検索する Resolver を作成する
func NewResolver(types ...Type) *Resolver {
	return &Resolver{types: append([]Type(nil), types...)}
}

// Default は既定の対応表を持つ Resolver
var Default = NewResolver(HTML, CSS, JavaScript, ICO)

// FindByExtension は拡張子が s の末尾に一致する最初の Type を返す
func (r *Resolver) FindByExtension(s string) (Type, error) {
	for _, t := range r.types {
		if strings.HasSuffix(s, t.Extension) {
			return t, nil
		}
	}
	return Type{}, fmt.Errorf("%w: %q", ErrNotSupportedExtension, s)
}

// Types は登録済みの Type を検索順に返す
func (r *Resolver) Types() []Type {
	return append([]Type(nil), r.types...)
}

// FindByExtension は既定の対応表で検索する
func FindByExtension(s string) (Type, error) {
	return Default.FindByExtension(s)
}
