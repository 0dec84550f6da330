package dm

const MaxVersionAttempts = maxVersionAttempts
