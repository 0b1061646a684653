package cache

import "fmt"

func PictureStatusKey(pictureID int64) string {
	return fmt.Sprintf("picture:status:%d", pictureID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
