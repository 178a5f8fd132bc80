package cache

// CatalogEntry is one downloadable guest OS the wrapper images know how
// to boot. Version is the code handed to the wrapper (dockur VERSION or
// qemu BOOT); DownloadURL is empty when the vendor has no static link.
type CatalogEntry struct {
	Version     string  `json:"version"`
	Name        string  `json:"name"`
	SizeGB      float64 `json:"size_gb"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`

	// Filled in by Manager.Catalog from the filesystem.
	Cached bool   `json:"cached"`
	Path   string `json:"path,omitempty"`
}

// ImageSuggestion is a pullable container image recommended for
// templates. Access distinguishes how desktop images expose their UI.
type ImageSuggestion struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Access      string `json:"access,omitempty"`
}

// WindowsVersions lists the guest builds the dockur wrapper accepts.
// Callers get a copy they may annotate.
func WindowsVersions() []CatalogEntry {
	return append([]CatalogEntry(nil), windowsVersions...)
}

// LinuxDistros lists the guest builds the qemu wrapper accepts.
// Callers get a copy they may annotate.
func LinuxDistros() []CatalogEntry {
	return append([]CatalogEntry(nil), linuxDistros...)
}

// RecommendedImages groups suggested workload images by category.
func RecommendedImages() map[string][]ImageSuggestion {
	return map[string][]ImageSuggestion{
		"desktop":  desktopImages,
		"server":   serverImages,
		"services": serviceImages,
	}
}

func windowsVersion(code string) (CatalogEntry, bool) {
	for _, v := range windowsVersions {
		if v.Version == code {
			return v, true
		}
	}
	return CatalogEntry{}, false
}

func linuxDistro(code string) (CatalogEntry, bool) {
	for _, v := range linuxDistros {
		if v.Version == code {
			return v, true
		}
	}
	return CatalogEntry{}, false
}

var windowsVersions = []CatalogEntry{
	{Version: "11", Name: "Windows 11 Pro", SizeGB: 6.3, Category: "desktop", DownloadURL: "https://dl.bobpony.com/windows/11/en-us_windows_11_24h2_x64.iso"},
	{Version: "11e", Name: "Windows 11 Enterprise", SizeGB: 5.8, Category: "desktop", DownloadURL: "https://dl.bobpony.com/windows/11/en-us_windows_11_enterprise_24h2_x64.iso"},
	{Version: "10", Name: "Windows 10 Pro", SizeGB: 5.7, Category: "desktop", DownloadURL: "https://dl.bobpony.com/windows/10/en-us_windows_10_22h2_x64.iso"},
	{Version: "10e", Name: "Windows 10 Enterprise", SizeGB: 5.5, Category: "desktop", DownloadURL: "https://dl.bobpony.com/windows/10/en-us_windows_10_enterprise_22h2_x64.iso"},
	{Version: "10l", Name: "Windows 10 LTSC", SizeGB: 4.6, Category: "desktop", DownloadURL: "https://dl.bobpony.com/windows/10/en-us_windows_10_enterprise_ltsc_2021_x64_dvd_d289cf96.iso"},
	{Version: "81", Name: "Windows 8.1 Pro", SizeGB: 3.7, Category: "desktop", DownloadURL: "https://dl.bobpony.com/windows/8.x/8.1/en_windows_8.1_with_update_x64_dvd_6051480.iso"},
	{Version: "7", Name: "Windows 7 Ultimate", SizeGB: 3.1, Category: "legacy", DownloadURL: "https://dl.bobpony.com/windows/7/en_windows_7_with_sp1_x64.iso"},
	{Version: "vista", Name: "Windows Vista Ultimate", SizeGB: 3.0, Category: "legacy", DownloadURL: "https://dl.bobpony.com/windows/vista/en_windows_vista_sp2_x64_dvd_342267.iso"},
	{Version: "xp", Name: "Windows XP Professional", SizeGB: 0.6, Category: "legacy", DownloadURL: "https://dl.bobpony.com/windows/xp/professional/en_windows_xp_professional_with_service_pack_3_x86_cd_x14-80428.iso"},
	{Version: "2k", Name: "Windows 2000 Professional", SizeGB: 0.3, Category: "legacy", DownloadURL: "https://archive.org/download/win-2000-pro-sp-4/Win2000ProSP4.iso"},
	{Version: "2025", Name: "Windows Server 2025", SizeGB: 5.5, Category: "server", DownloadURL: "https://software-static.download.prss.microsoft.com/dbazure/888969d5-f34g-4e03-ac9d-1f9786c66749/26100.1742.240906-0331.ge_release_svc_refresh_SERVER_EVAL_x64FRE_en-us.iso"},
	{Version: "2022", Name: "Windows Server 2022", SizeGB: 5.3, Category: "server", DownloadURL: "https://software-static.download.prss.microsoft.com/sg/download/888969d5-f34g-4e03-ac9d-1f9786c66749/SERVER_EVAL_x64FRE_en-us.iso"},
	{Version: "2019", Name: "Windows Server 2019", SizeGB: 5.0, Category: "server", DownloadURL: "https://software-static.download.prss.microsoft.com/pr/download/17763.3650.221105-1748.rs5_release_svc_refresh_SERVER_EVAL_x64FRE_en-us.iso"},
	{Version: "2016", Name: "Windows Server 2016", SizeGB: 6.0, Category: "server", DownloadURL: "https://software-static.download.prss.microsoft.com/pr/download/Windows_Server_2016_Datacenter_EVAL_en-us_14393_refresh.ISO"},
	{Version: "2012", Name: "Windows Server 2012 R2", SizeGB: 4.3, Category: "server", DownloadURL: "https://dl.bobpony.com/windows/server/2012r2/en_windows_server_2012_r2_with_update_x64_dvd_6052708.iso"},
	{Version: "2008", Name: "Windows Server 2008 R2", SizeGB: 3.0, Category: "server", DownloadURL: "https://dl.bobpony.com/windows/server/2008r2/en_windows_server_2008_r2_with_sp1_x64_dvd_617601.iso"},
	{Version: "2003", Name: "Windows Server 2003 R2", SizeGB: 0.6, Category: "legacy", DownloadURL: "https://archive.org/download/en_win_srv_2003_r2_standard_x64_with_sp2_cd1_x13-05757/en_win_srv_2003_r2_standard_x64_with_sp2_cd1_x13-05757.iso"},
}

var linuxDistros = []CatalogEntry{
	{Version: "ubuntu", Name: "Ubuntu Desktop", SizeGB: 6.0, Category: "desktop", Description: "Ubuntu Desktop 24.04 LTS", DownloadURL: "https://releases.ubuntu.com/noble/ubuntu-24.04.3-desktop-amd64.iso"},
	{Version: "ubuntus", Name: "Ubuntu Server", SizeGB: 3.0, Category: "server", Description: "Ubuntu Server 24.04 LTS", DownloadURL: "https://releases.ubuntu.com/noble/ubuntu-24.04.3-live-server-amd64.iso"},
	{Version: "debian", Name: "Debian", SizeGB: 3.3, Category: "desktop", Description: "Debian 13 Trixie", DownloadURL: "https://cdimage.debian.org/debian-cd/current-live/amd64/iso-hybrid/debian-live-13.3.0-amd64-gnome.iso"},
	{Version: "fedora", Name: "Fedora", SizeGB: 2.3, Category: "desktop", Description: "Fedora Workstation", DownloadURL: "https://download.fedoraproject.org/pub/fedora/linux/releases/41/Workstation/x86_64/iso/Fedora-Workstation-Live-x86_64-41-1.4.iso"},
	{Version: "alpine", Name: "Alpine Linux", SizeGB: 0.06, Category: "server", Description: "Minimal and security-focused", DownloadURL: "https://dl-cdn.alpinelinux.org/alpine/v3.23/releases/x86_64/alpine-virt-3.23.2-x86_64.iso"},
	{Version: "arch", Name: "Arch Linux", SizeGB: 1.2, Category: "desktop", Description: "Rolling release", DownloadURL: "https://geo.mirror.pkgbuild.com/iso/latest/archlinux-x86_64.iso"},
	{Version: "manjaro", Name: "Manjaro", SizeGB: 4.1, Category: "desktop", Description: "User-friendly Arch-based distro", DownloadURL: "https://sourceforge.net/projects/manjarolinux/files/gnome/26.0/manjaro-gnome-26.0-260104-linux618.iso/download"},
	{Version: "suse", Name: "OpenSUSE", SizeGB: 1.0, Category: "desktop", Description: "OpenSUSE Leap", DownloadURL: "https://download.opensuse.org/distribution/leap/15.6/iso/openSUSE-Leap-15.6-DVD-x86_64-Media.iso"},
	{Version: "mint", Name: "Linux Mint", SizeGB: 2.8, Category: "desktop", Description: "Windows-like experience", DownloadURL: "https://mirrors.kernel.org/linuxmint/stable/22.3/linuxmint-22.3-cinnamon-64bit.iso"},
	{Version: "zorin", Name: "Zorin OS", SizeGB: 3.8, Category: "desktop", Description: "Familiar desktop interface", DownloadURL: "https://mirrors.edge.kernel.org/zorinos-isos/17/Zorin-OS-17.3-Core-64-bit-r2.iso"},
	{Version: "kubuntu", Name: "Kubuntu", SizeGB: 4.4, Category: "desktop", Description: "Ubuntu with KDE Plasma", DownloadURL: "https://cdimages.ubuntu.com/kubuntu/releases/noble/release/kubuntu-24.04.3-desktop-amd64.iso"},
	{Version: "xubuntu", Name: "Xubuntu", SizeGB: 4.0, Category: "desktop", Description: "Ubuntu with XFCE", DownloadURL: "https://cdimages.ubuntu.com/xubuntu/releases/noble/release/xubuntu-24.04.3-desktop-amd64.iso"},
	{Version: "kali", Name: "Kali Linux", SizeGB: 3.8, Category: "security", Description: "Penetration testing and security auditing", DownloadURL: "https://cdimage.kali.org/kali-2025.4/kali-linux-2025.4-installer-amd64.iso"},
	{Version: "tails", Name: "Tails", SizeGB: 1.9, Category: "security", Description: "Privacy-focused, runs from memory", DownloadURL: "https://download.tails.net/tails/stable/tails-amd64-7.3.1/tails-amd64-7.3.1.iso"},
	{Version: "rocky", Name: "Rocky Linux", SizeGB: 2.1, Category: "server", Description: "RHEL compatible enterprise OS", DownloadURL: "https://dl.rockylinux.org/pub/rocky/9/live/x86_64/Rocky-9-Workstation-x86_64-latest.iso"},
	{Version: "alma", Name: "Alma Linux", SizeGB: 2.2, Category: "server", Description: "RHEL compatible enterprise OS", DownloadURL: "https://repo.almalinux.org/almalinux/9/live/x86_64/AlmaLinux-9-latest-x86_64-Live-GNOME.iso"},
	{Version: "centos", Name: "CentOS Stream", SizeGB: 7.0, Category: "server", Description: "RHEL upstream development", DownloadURL: "https://mirrors.centos.org/mirrorlist?path=/9-stream/BaseOS/x86_64/iso/CentOS-Stream-9-latest-x86_64-dvd1.iso&redirect=1&protocol=https"},
	{Version: "gentoo", Name: "Gentoo", SizeGB: 3.6, Category: "desktop", Description: "Source-based", DownloadURL: "https://distfiles.gentoo.org/releases/amd64/autobuilds/current-livegui-amd64/livegui-amd64-20260111T160052Z.iso"},
	{Version: "nixos", Name: "NixOS", SizeGB: 2.4, Category: "desktop", Description: "Declarative and reproducible", DownloadURL: "https://channels.nixos.org/nixos-25.11/latest-nixos-gnome-x86_64-linux.iso"},
	{Version: "mx", Name: "MX Linux", SizeGB: 2.2, Category: "desktop", Description: "Lightweight and fast", DownloadURL: "https://sourceforge.net/projects/mx-linux/files/Final/Xfce/MX-25_Xfce_x64.iso/download"},
	{Version: "cachy", Name: "CachyOS", SizeGB: 2.6, Category: "desktop", Description: "Performance-optimized Arch-based", DownloadURL: "https://sourceforge.net/projects/cachyos-arch/files/gui-installer/desktop/251129/cachyos-desktop-linux-251129.iso/download"},
	{Version: "slack", Name: "Slackware", SizeGB: 3.7, Category: "server", Description: "One of the oldest Linux distributions", DownloadURL: "https://slackware.nl/slackware-live/slackware64-current-live/slackware64-live-current.iso"},
}

var desktopImages = []ImageSuggestion{
	{Name: "Ubuntu Desktop (XFCE)", Image: "linuxserver/webtop:ubuntu-xfce", Description: "Full Ubuntu desktop with XFCE, accessible via web browser", Category: "desktop", Access: "web"},
	{Name: "Debian Desktop (KDE)", Image: "linuxserver/webtop:debian-kde", Description: "Full Debian desktop with KDE Plasma, accessible via web browser", Category: "desktop", Access: "web"},
	{Name: "Fedora Desktop (XFCE)", Image: "linuxserver/webtop:fedora-xfce", Description: "Full Fedora desktop with XFCE, accessible via web browser", Category: "desktop", Access: "web"},
	{Name: "Arch Linux Desktop (XFCE)", Image: "linuxserver/webtop:arch-xfce", Description: "Full Arch Linux desktop with XFCE, accessible via web browser", Category: "desktop", Access: "web"},
	{Name: "Ubuntu 22.04 Desktop (Kasm)", Image: "kasmweb/ubuntu-jammy-desktop:1.14.0", Description: "Ubuntu 22.04 with full desktop environment via KasmVNC", Category: "desktop", Access: "vnc"},
	{Name: "Kali Linux Desktop (Kasm)", Image: "kasmweb/kali-rolling-desktop:1.14.0", Description: "Kali Linux with full desktop and security tools via KasmVNC", Category: "desktop", Access: "vnc"},
	{Name: "Ubuntu Desktop (XFCE/VNC)", Image: "consol/ubuntu-xfce-vnc", Description: "Ubuntu with XFCE desktop accessible via VNC", Category: "desktop", Access: "vnc"},
	{Name: "Ubuntu Desktop (LXDE/VNC)", Image: "dorowu/ubuntu-desktop-lxde-vnc", Description: "Lightweight Ubuntu with LXDE desktop accessible via VNC", Category: "desktop", Access: "vnc"},
}

var serverImages = []ImageSuggestion{
	{Name: "Ubuntu Server 22.04 LTS", Image: "ubuntu:22.04", Description: "Ubuntu 22.04 LTS (Jammy Jellyfish)", Category: "server"},
	{Name: "Ubuntu Server 20.04 LTS", Image: "ubuntu:20.04", Description: "Ubuntu 20.04 LTS (Focal Fossa)", Category: "server"},
	{Name: "Debian 12 (Bookworm)", Image: "debian:12", Description: "Debian 12 Bookworm, current stable release", Category: "server"},
	{Name: "Debian 11 (Bullseye)", Image: "debian:11", Description: "Debian 11 Bullseye, previous stable release", Category: "server"},
	{Name: "Fedora Server 39", Image: "fedora:39", Description: "Fedora 39 with latest packages", Category: "server"},
	{Name: "Rocky Linux 9", Image: "rockylinux:9", Description: "RHEL-compatible enterprise Linux", Category: "server"},
	{Name: "CentOS 7", Image: "centos:7", Description: "Legacy enterprise Linux support", Category: "server"},
	{Name: "Alpine Linux 3.19", Image: "alpine:3.19", Description: "Minimal, security-focused distribution", Category: "server"},
	{Name: "Kali Linux (CLI)", Image: "kalilinux/kali-rolling", Description: "Kali rolling release with security and pentesting tools", Category: "server"},
}

var serviceImages = []ImageSuggestion{
	{Name: "Nginx", Image: "nginx:latest", Description: "High-performance HTTP server and reverse proxy", Category: "services"},
	{Name: "Apache HTTP Server", Image: "httpd:latest", Description: "The Apache HTTP Server Project", Category: "services"},
	{Name: "MySQL 8", Image: "mysql:8", Description: "Popular open-source relational database", Category: "services"},
	{Name: "PostgreSQL 16", Image: "postgres:16", Description: "Advanced open-source database", Category: "services"},
	{Name: "Redis 7", Image: "redis:7", Description: "In-memory data structure store and cache", Category: "services"},
	{Name: "MongoDB 7", Image: "mongo:7", Description: "Document-oriented NoSQL database", Category: "services"},
	{Name: "MariaDB 11", Image: "mariadb:11", Description: "MySQL-compatible database server", Category: "services"},
	{Name: "Elasticsearch 8", Image: "elasticsearch:8.11.0", Description: "Distributed search and analytics engine", Category: "services"},
}
