package config

// LoadFromFile loads target from a single config file.
func LoadFromFile[T any](filePath string, target *T) error {
	manager := NewManager()
	manager.AddLoader(NewFileLoader(filePath))
	return manager.Load(target)
}

// ValidateConfig calls config's Validate method if it implements one,
// otherwise falls back to the generic struct-tag validation.
func ValidateConfig[T any](config T) error {
	if validator, ok := any(config).(interface{ Validate() error }); ok {
		return validator.Validate()
	}

	return validateStruct(config)
}
