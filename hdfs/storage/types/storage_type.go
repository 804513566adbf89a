package types

type StorageId string

type StorageType string

const (
	HardDriveType StorageType = ""
	SsdType       StorageType = "ssd"
	ArchivalType  StorageType = "archival"
)

func ToStorageType(vt string) (storageType StorageType) {
	vt = string(NormalizeStorageType(StorageType(vt)))
	storageType = HardDriveType
	switch vt {
	case "", "hdd":
		storageType = HardDriveType
	case "ssd":
		storageType = SsdType
	case "archival":
		storageType = ArchivalType
	}
	return
}

func NormalizeStorageType(t StorageType) StorageType {
	if t == "hdd" {
		return HardDriveType
	}
	return t
}

func (t StorageType) ReadableString() string {
	if t == HardDriveType {
		return "hdd"
	}
	return string(t)
}
