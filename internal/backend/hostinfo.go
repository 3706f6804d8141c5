package backend

// fallbackMemory is assumed when physical memory cannot be read.
const fallbackMemory uint64 = 4 << 30
