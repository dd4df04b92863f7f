package tool

import "regexp"

var pyrit = profile{
	name:         "pyrit",
	binary:       "pyrit",
	versionArgs:  nil,
	versionRegex: regexp.MustCompile(`Pyrit (\S+)`),
	benchArgs:    []string{"benchmark"},
	benchRegex:   regexp.MustCompile(`(?i)computed ([\d.]+) PMKs/s total`),
	runArgs: func(p RunParams, outfile string) []string {
		return []string{"-r", p.CapturePath, "-i", p.DictionaryPath, "attack_passthrough"}
	},
	keyRegex: regexp.MustCompile(`The password is '(.+)'`),
}

var aircrack = profile{
	name:         "aircrack-ng",
	binary:       "aircrack-ng",
	versionArgs:  []string{"--help"},
	versionRegex: regexp.MustCompile(`Aircrack-ng (\S+)`),
	benchArgs:    []string{"-S"},
	benchRegex:   regexp.MustCompile(`([\d.]+) k/s`),
	runArgs: func(p RunParams, outfile string) []string {
		return []string{"-q", "-w", p.DictionaryPath, p.CapturePath}
	},
	keyRegex: regexp.MustCompile(`KEY FOUND! \[ (.+) \]`),
}

var hashcat = profile{
	name:         "hashcat",
	binary:       "hashcat",
	versionArgs:  []string{"--version"},
	versionRegex: regexp.MustCompile(`v?(\d+\.\d+\S*)`),
	benchArgs:    []string{"-b", "-m", "22000", "--quiet"},
	benchRegex:   regexp.MustCompile(`Speed\.#\S*\.*:\s+([\d.]+) ?([kMG]?)H/s`),
	runArgs: func(p RunParams, outfile string) []string {
		return []string{"-m", "22000", "-a", "0", "--quiet", "--potfile-disable",
			"--outfile", outfile, "--outfile-format", "2", p.CapturePath, p.DictionaryPath}
	},
	// cracked keys go to the outfile, one plain password per line; the
	// console only carries status and warnings
	outfile:   true,
	exhausted: 1,
}

// Builtin registers the pyrit, aircrack-ng and hashcat drivers.
func Builtin(r *Registry) {
	for _, p := range []profile{pyrit, aircrack, hashcat} {
		r.MustRegister(p.name, func(path string, runner Runner) Driver {
			if path == "" {
				path = p.binary
			}
			if runner == nil {
				runner = ExecRunner{}
			}
			return &execDriver{profile: p, path: path, runner: runner}
		})
	}
}
