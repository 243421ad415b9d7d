package catalog

import (
	"fmt"
)

// Validate checks catalog integrity and returns every problem found.
func (c *Catalog) Validate() []error {
	var errs []error
	errs = append(errs, c.validateLimits()...)
	errs = append(errs, c.validateUseCases()...)
	errs = append(errs, c.validateProducts()...)
	return errs
}

func (c *Catalog) validateLimits() []error {
	var errs []error

	io := c.Limits.IO
	if io.MaxDigitalInputs <= 0 || io.MaxDigitalOutputs <= 0 {
		errs = append(errs, fmt.Errorf("io_limits digital maxima must be positive"))
	}
	if io.MaxAnalogInputs <= 0 || io.MaxAnalogOutputs <= 0 {
		errs = append(errs, fmt.Errorf("io_limits analog maxima must be positive"))
	}
	if io.MaxTotalIO <= 0 {
		errs = append(errs, fmt.Errorf("io_limits.max_total_io must be positive"))
	}

	temp := c.Limits.Temperature
	if temp.MinCelsius >= temp.MaxCelsius {
		errs = append(errs, fmt.Errorf("temperature.min_celsius must be below max_celsius"))
	}
	if temp.OutdoorMin < temp.MinCelsius || temp.OutdoorMax > temp.MaxCelsius {
		errs = append(errs, fmt.Errorf("temperature outdoor range must fit inside absolute range"))
	}
	if temp.IndoorMin < temp.MinCelsius || temp.IndoorMax > temp.MaxCelsius {
		errs = append(errs, fmt.Errorf("temperature indoor range must fit inside absolute range"))
	}

	power := c.Limits.Power
	if len(power.AvailableVoltages) == 0 {
		errs = append(errs, fmt.Errorf("power.available_voltages is required"))
	}
	if power.MaxPowerWatts <= 0 {
		errs = append(errs, fmt.Errorf("power.max_power_watts must be positive"))
	}

	comm := c.Limits.Communication
	if len(comm.SupportedProtocols) == 0 {
		errs = append(errs, fmt.Errorf("communication.supported_protocols is required"))
	}
	if comm.MaxDevices <= 0 {
		errs = append(errs, fmt.Errorf("communication.max_devices must be positive"))
	}

	for index, pair := range c.Limits.Relationships.MutexPairs {
		if pair[0] == "" || pair[1] == "" {
			errs = append(errs, fmt.Errorf("relationships.mutex_pairs[%d] has a blank constraint id", index))
		}
		if pair[0] == pair[1] {
			errs = append(errs, fmt.Errorf("relationships.mutex_pairs[%d] pairs %q with itself", index, pair[0]))
		}
	}

	return errs
}

func (c *Catalog) validateUseCases() []error {
	var errs []error

	if len(c.UseCases) == 0 {
		errs = append(errs, fmt.Errorf("use_cases table is empty"))
	}
	for _, id := range c.UseCaseIDs() {
		uc := c.UseCases[id]
		if uc.Name == "" {
			errs = append(errs, fmt.Errorf("use_cases[%s].name is required", id))
		}
		if len(uc.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("use_cases[%s].keywords is required", id))
		}
		if uc.Prior <= 0 || uc.Prior > 1 {
			errs = append(errs, fmt.Errorf("use_cases[%s].prior must be in (0, 1]", id))
		}
		for _, related := range uc.Related {
			if _, ok := c.UseCases[related]; !ok {
				errs = append(errs, fmt.Errorf("use_cases[%s] references unknown related use case %q", id, related))
			}
		}
	}

	for _, category := range c.mutexCategories() {
		for index, rule := range c.MutexConstraints[category] {
			if rule.ConstraintA == "" || rule.ConstraintB == "" {
				errs = append(errs, fmt.Errorf("mutex_constraints[%s][%d] has a blank constraint id", category, index))
			}
			if rule.ConstraintA == rule.ConstraintB {
				errs = append(errs, fmt.Errorf("mutex_constraints[%s][%d] pairs %q with itself", category, index, rule.ConstraintA))
			}
		}
	}

	for csrID, csr := range c.CommonRequirements {
		if len(csr.ImpliedConstraints) == 0 {
			errs = append(errs, fmt.Errorf("common_sub_requirements[%s] implies no constraints", csrID))
		}
		for index, implied := range csr.ImpliedConstraints {
			if implied.ConstraintID == "" {
				errs = append(errs, fmt.Errorf("common_sub_requirements[%s][%d].constraint_id is required", csrID, index))
			}
			if implied.StrengthScore != 4 && implied.StrengthScore != 10 {
				errs = append(errs, fmt.Errorf("common_sub_requirements[%s][%d].strength_score must be 4 or 10", csrID, index))
			}
		}
	}

	return errs
}

func (c *Catalog) validateProducts() []error {
	var errs []error

	seenModels := map[string]struct{}{}
	for index, product := range c.Products {
		if product.Model == "" {
			errs = append(errs, fmt.Errorf("products[%d].model is required", index))
			continue
		}
		if _, exists := seenModels[product.Model]; exists {
			errs = append(errs, fmt.Errorf("products[%d].model duplicates %q", index, product.Model))
		}
		seenModels[product.Model] = struct{}{}

		if product.Name == "" {
			errs = append(errs, fmt.Errorf("products[%d].name is required", index))
		}
		if product.Kind == "" {
			errs = append(errs, fmt.Errorf("products[%d].kind is required", index))
		}
		if product.DigitalIn < 0 || product.DigitalOut < 0 || product.AnalogIn < 0 || product.AnalogOut < 0 {
			errs = append(errs, fmt.Errorf("products[%d] channel counts must not be negative", index))
		}
		if product.TempMin >= product.TempMax {
			errs = append(errs, fmt.Errorf("products[%d].temp_min must be below temp_max", index))
		}
		if len(product.Protocols) == 0 {
			errs = append(errs, fmt.Errorf("products[%d].protocols is required", index))
		}
	}

	return errs
}
