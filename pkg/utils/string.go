package utils

import (
	"strconv"

	"github.com/duke-git/lancet/v2/cryptor"
	"github.com/duke-git/lancet/v2/random"
	"github.com/google/uuid"
)

// SaltLimit 随机盐的上限（不含）
const SaltLimit = 1_000_000_000

// GenerateUUID 生成UUID
func GenerateUUID() string {
	return uuid.New().String()
}

// MD5 计算MD5哈希
func MD5(s string) string {
	return cryptor.Md5String(s)
}

// RandomSalt 生成 [0, SaltLimit) 范围内的随机盐
func RandomSalt() int64 {
	return int64(random.RandInt(0, SaltLimit))
}

// SaltedDigest 计算 md5(十进制盐 + 密钥)
func SaltedDigest(salt int64, secret string) string {
	return MD5(strconv.FormatInt(salt, 10) + secret)
}
