// Package requestkey canonicalizes client-supplied correlation identifiers
// so they can be compared for equality regardless of case or incidental
// whitespace.
package requestkey

import (
	"regexp"
	"strings"
)

// uuidShapeRegex matches the canonical 8-4-4-4-12 grouping of 32 hex digits.
var uuidShapeRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Normalize 规范化客户端请求标识
//
// 返回值第二位为 false 表示没有可用的 key（输入为空或纯空白）。
// 合法 UUID 统一转为小写；其余非空字符串去除首尾空白后原样返回，
// 不能假设所有标识都是 UUID。
func Normalize(raw string, allowEmpty bool) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if allowEmpty {
			return "", true
		}
		return "", false
	}

	if IsCanonicalUUID(trimmed) {
		return strings.ToLower(trimmed), true
	}

	return trimmed, true
}

// IsCanonicalUUID 判断字符串是否为合法的 8-4-4-4-12 UUID
//
// 形状匹配但版本位非 1-5 的字符串不视为 UUID。
func IsCanonicalUUID(s string) bool {
	if !uuidShapeRegex.MatchString(s) {
		return false
	}
	// 版本位是第三组的首个十六进制位
	switch s[14] {
	case '1', '2', '3', '4', '5':
		return true
	}
	return false
}
