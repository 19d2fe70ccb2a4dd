package utility

// Configured sets up the rate database client based on flags. Call
// Validate after flags are parsed.
func Configured() *OpenEI {
	return configuredOpenEI()
}
