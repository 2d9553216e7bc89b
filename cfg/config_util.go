// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultWorkerCount returns a worker-pool lane size scaled with the host's
// CPU count (twice the CPUs, at least 4). BindFlags and GetDefaultConfig do
// not use it: their lane defaults are the fixed DefaultPriorityWorkers and
// DefaultNormalWorkers.
func DefaultWorkerCount() uint32 {
	return uint32(max(4, 2*runtime.NumCPU()))
}

// ResolveStorageDir turns dir into an absolute, existing, writable path.
// When dir is empty, or unwritable and allowTmpfsFallback is set, it falls
// back to a process-local temp directory and logs a warning to stderr
// (the caller may not have a logger configured yet at this point in
// startup).
func ResolveStorageDir(dir string, allowTmpfsFallback bool) (string, error) {
	if dir == "" {
		if !allowTmpfsFallback {
			return "", fmt.Errorf("storage-dir is required (or set allow-tmpfs-fallback)")
		}
		return fallbackStorageDir()
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving storage-dir %q: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		if !allowTmpfsFallback {
			return "", fmt.Errorf("creating storage-dir %q: %w", abs, err)
		}
		fmt.Fprintf(os.Stderr, "warning: storage-dir %q unusable (%v), falling back to tmpfs\n", abs, err)
		return fallbackStorageDir()
	}

	probe, err := os.CreateTemp(abs, ".razorfs-probe-")
	if err != nil {
		if !allowTmpfsFallback {
			return "", fmt.Errorf("storage-dir %q is not writable: %w", abs, err)
		}
		fmt.Fprintf(os.Stderr, "warning: storage-dir %q unusable (%v), falling back to tmpfs\n", abs, err)
		return fallbackStorageDir()
	}
	probe.Close()
	os.Remove(probe.Name())

	return abs, nil
}

func fallbackStorageDir() (string, error) {
	dir, err := os.MkdirTemp("", "razorfs-")
	if err != nil {
		return "", fmt.Errorf("creating tmpfs fallback storage dir: %w", err)
	}
	fmt.Fprintf(os.Stderr, "warning: using tmpfs fallback storage dir %q; data will not survive a reboot\n", dir)
	return dir, nil
}
