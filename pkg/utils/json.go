package utils

import (
	"github.com/bytedance/sonic"
)

// ToJSONBytes 将对象转换为JSON字节数组
func ToJSONBytes(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// FromJSONBytes 将JSON字节数组转换为对象
func FromJSONBytes[T any](data []byte) (T, error) {
	var v T
	err := sonic.Unmarshal(data, &v)
	return v, err
}

// GetString 读取JSON中指定路径的字符串字段，不解析整个对象
func GetString(data []byte, path ...any) (string, error) {
	node, err := sonic.Get(data, path...)
	if err != nil {
		return "", err
	}
	return node.String()
}
