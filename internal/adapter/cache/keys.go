package cache

// Key builders for the ephemeral records shared with the other services.
func VerifyKey(token string) string     { return "verify:" + token }
func ResetKey(token string) string      { return "reset:" + token }
func OTPSessionKey(token string) string { return "otp-session:" + token }
func BlacklistKey(token string) string  { return "blacklist:" + token }

// OTPUsedKey marks a TOTP code as consumed for a user.
func OTPUsedKey(userID, code string) string { return "otp-used:" + userID + ":" + code }
