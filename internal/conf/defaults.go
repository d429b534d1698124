package conf

import "github.com/spf13/viper"

// setDefaultConfig seeds viper with the default settings.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("player.bufferchunks", 10)
	viper.SetDefault("player.output", "")
	viper.SetDefault("player.softvol", false)
	viper.SetDefault("player.softvolleft", 100)
	viper.SetDefault("player.softvolright", 100)
	viper.SetDefault("player.replaygain", "off")
	viper.SetDefault("player.replaygainlimit", true)
	viper.SetDefault("player.replaygainpreamp", 6.0)
	viper.SetDefault("player.continue", true)

	viper.SetDefault("output.null.buffer_ms", "200")
}
